package net

import (
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/GoNeuron2D/internal/layer"
)

// layerName extracts the simple type name of a layer.
func layerName(l layer.Layer) string {
	lType := fmt.Sprintf("%T", l)
	for j := len(lType) - 1; j >= 0; j-- {
		if lType[j] == '.' {
			return lType[j+1:]
		}
	}
	return lType
}

// Summary writes a table of the pipeline's layers to w.
func (p *Pipeline) Summary(w io.Writer) {
	fmt.Fprintln(w, "Pipeline")
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Features", "Param #")
	fmt.Fprintln(w, "=================================================================")

	totalParams := 0
	for i, l := range p.Layers() {
		params := len(l.Params())
		totalParams += params
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", fmt.Sprintf("%s_%d", layerName(l), i), fmt.Sprintf("(%d)", l.NOut()), params)
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", totalParams)
	fmt.Fprintln(w, "_________________________________________________________________")
}
