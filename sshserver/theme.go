package sshserver

import (
	"strconv"

	"pkt.systems/nbexec/schema"
)

type rgb struct {
	r int
	g int
	b int
}

type consoleTheme struct {
	Name     string
	ErrorFG  rgb
	MetaFG   rgb
	ReplayFG rgb
	PlotFG   rgb
	PromptFG rgb
}

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
)

const defaultTheme = "outrun"

var consoleThemes = map[string]consoleTheme{
	"outrun": {
		Name:     "outrun",
		ErrorFG:  rgb{r: 255, g: 107, b: 107},
		MetaFG:   rgb{r: 154, g: 163, b: 178},
		ReplayFG: rgb{r: 110, g: 136, b: 255},
		PlotFG:   rgb{r: 112, g: 214, b: 255},
		PromptFG: rgb{r: 255, g: 91, b: 189},
	},
	"gruvbox": {
		Name:     "gruvbox",
		ErrorFG:  rgb{r: 251, g: 73, b: 52},
		MetaFG:   rgb{r: 146, g: 131, b: 116},
		ReplayFG: rgb{r: 131, g: 165, b: 152},
		PlotFG:   rgb{r: 250, g: 189, b: 47},
		PromptFG: rgb{r: 214, g: 93, b: 14},
	},
	"tokyo-midnight": {
		Name:     "tokyo-midnight",
		ErrorFG:  rgb{r: 247, g: 118, b: 142},
		MetaFG:   rgb{r: 127, g: 133, b: 163},
		ReplayFG: rgb{r: 122, g: 162, b: 247},
		PlotFG:   rgb{r: 158, g: 206, b: 106},
		PromptFG: rgb{r: 187, g: 154, b: 247},
	},
}

func themeForName(name string) consoleTheme {
	if theme, ok := consoleThemes[name]; ok {
		return theme
	}
	return consoleThemes[defaultTheme]
}

// outputColor picks the foreground for an output item.
func (t consoleTheme) outputColor(outputType schema.OutputType, replay bool) (rgb, bool) {
	switch {
	case outputType == schema.OutputError:
		return t.ErrorFG, true
	case replay:
		return t.ReplayFG, true
	case outputType == schema.OutputPlot || outputType == schema.OutputHTML || outputType == schema.OutputData:
		return t.PlotFG, true
	default:
		return rgb{}, false
	}
}

func ansiFgRGB(c rgb) string {
	return "\x1b[38;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}
