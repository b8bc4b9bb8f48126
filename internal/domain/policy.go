package domain

// StagePolicy is the per chart type switchboard for the generic executor.
// Reproject, mosaic and tile always run.
type StagePolicy struct {
	Crop           bool
	Color          ColorMode
	LowercaseNames bool
}

var Policies = map[ChartType]StagePolicy{
	Sectional:      {Crop: true, Color: ColorRGBA},
	TerminalArea:   {Crop: false, Color: ColorRGBA},
	IFREnrouteLow:  {Crop: true, Color: ColorNone, LowercaseNames: true},
	IFREnrouteHigh: {Crop: true, Color: ColorNone, LowercaseNames: true},
	Helicopter:     {Crop: true, Color: ColorRGB},
}

func PolicyFor(c ChartType) StagePolicy {
	if p, ok := Policies[c]; ok {
		return p
	}
	return StagePolicy{Color: ColorNone}
}

func (p StagePolicy) Stages() []Stage {
	out := make([]Stage, 0, 5)
	if p.Crop {
		out = append(out, StageCrop)
	}
	if p.Color != ColorNone && p.Color != "" {
		out = append(out, StageColor)
	}
	return append(out, StageReproject, StageMosaic, StageTile)
}
