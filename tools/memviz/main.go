// Command memviz renders a PNG picture of a kernel's internal state from
// the JSON snapshot internal/boot's DebugSnapshot produces (cmd/kernel's
// -dump flag, or a future debug_print wire-up, spec §4.2/§3.1): a grid of
// frame-allocation state and a tree diagram of the capability derivation
// tree under a chosen root. It never links against kernel packages itself
// — like cmd/kconsole, it is a host-only tool consuming a stable wire
// format, grounded on the same gg usage mazboot/golang's
// gg_circle_qemu.go shows (NewContext, SetRGB/SetLineWidth, Stroke/Fill).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/fogleman/gg"
)

// frameSnapshot and cdtNodeSnapshot mirror internal/boot's DebugSnapshot
// field-for-field; memviz is deliberately built against the wire JSON
// rather than importing internal/boot, so it stays a standalone tool a
// user can run without pulling in the whole kernel module graph.
type frameSnapshot struct {
	StartFrame uint64 `json:"start_frame"`
	NumFrames  uint64 `json:"num_frames"`
	Allocated  []bool `json:"allocated"`
}

type cdtNodeSnapshot struct {
	Ref      uint32   `json:"ref"`
	Parent   uint32   `json:"parent"`
	Dead     bool     `json:"dead"`
	Type     string   `json:"type"`
	Object   uint64   `json:"object"`
	Children []uint32 `json:"children"`
}

type debugSnapshot struct {
	Frames frameSnapshot     `json:"frames"`
	CDT    []cdtNodeSnapshot `json:"cdt"`
}

func main() {
	in := flag.String("in", "", "path to a JSON dump produced by cmd/kernel's -dump flag")
	out := flag.String("out", "memviz.png", "path to write the rendered PNG")
	root := flag.Uint("root", 1, "CDT ref to draw the derivation tree from")
	cellPx := flag.Int("cell", 6, "pixel size of one frame-grid cell")
	cols := flag.Int("cols", 64, "frames per row in the allocation grid")
	flag.Parse()

	if *in == "" {
		fmt.Fprintln(os.Stderr, "memviz: -in <path> is required")
		os.Exit(2)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "memviz: reading dump:", err)
		os.Exit(1)
	}

	var snap debugSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintln(os.Stderr, "memviz: parsing dump:", err)
		os.Exit(1)
	}

	byRef := make(map[uint32]cdtNodeSnapshot, len(snap.CDT))
	for _, n := range snap.CDT {
		byRef[n.Ref] = n
	}

	gridH := renderFrameGrid(&snap.Frames, *cellPx, *cols)
	treeH := measureTree(byRef, uint32(*root), 0)*treeRowHeight + treeMargin*2

	const width = 1024
	dc := gg.NewContext(width, gridH+treeH+sectionGap)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("frames %d-%d (%d total)", snap.Frames.StartFrame,
		snap.Frames.StartFrame+snap.Frames.NumFrames, snap.Frames.NumFrames), 8, 14)
	drawFrameGrid(dc, &snap.Frames, *cellPx, *cols, 24)

	dc.SetRGB(0, 0, 0)
	dc.DrawString("capability derivation tree", 8, float64(gridH+sectionGap))
	drawTree(dc, byRef, uint32(*root), 0, gridH+sectionGap+16, width)

	if err := dc.SavePNG(*out); err != nil {
		fmt.Fprintln(os.Stderr, "memviz: writing PNG:", err)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "memviz: wrote", *out)
}

const sectionGap = 24

// renderFrameGrid returns the pixel height the frame-allocation grid will
// occupy, given cols frames per row at cellPx per cell, plus a label row.
func renderFrameGrid(f *frameSnapshot, cellPx, cols int) int {
	if cols <= 0 {
		cols = 1
	}
	rows := (int(f.NumFrames) + cols - 1) / cols
	if rows == 0 {
		rows = 1
	}
	return rows*cellPx + 24
}

// drawFrameGrid paints one square per frame: white for free, a solid red
// fill for allocated, laid out row-major starting at yOffset.
func drawFrameGrid(dc *gg.Context, f *frameSnapshot, cellPx, cols int, yOffset int) {
	if cols <= 0 {
		cols = 1
	}
	for i, allocated := range f.Allocated {
		row := i / cols
		col := i % cols
		x := float64(col * cellPx)
		y := float64(yOffset + row*cellPx)

		if allocated {
			dc.SetRGB(0.8, 0.1, 0.1)
		} else {
			dc.SetRGB(0.9, 0.9, 0.9)
		}
		dc.DrawRectangle(x, y, float64(cellPx-1), float64(cellPx-1))
		dc.Fill()
	}

	dc.SetRGB(0.4, 0.4, 0.4)
	dc.SetLineWidth(1)
	dc.DrawRectangle(0, float64(yOffset), float64(cols*cellPx), float64(((len(f.Allocated)+cols-1)/cols)*cellPx))
	dc.Stroke()
}

const (
	treeRowHeight = 20
	treeIndent    = 20
	treeMargin    = 8
)

// measureTree counts how many rows (this node plus every live descendant,
// depth-first) drawTree will need, so main can size the canvas before
// drawing into it.
func measureTree(byRef map[uint32]cdtNodeSnapshot, ref uint32, depth int) int {
	n, ok := byRef[ref]
	if !ok {
		return 0
	}
	rows := 1
	for _, c := range n.Children {
		rows += measureTree(byRef, c, depth+1)
	}
	return rows
}

// drawTree renders ref and its live descendants as an indented label
// list, one row per node, returning the y coordinate of the next free
// row so callers (recursive calls here) can stack siblings without
// overlap.
func drawTree(dc *gg.Context, byRef map[uint32]cdtNodeSnapshot, ref uint32, depth int, y int, width int) int {
	n, ok := byRef[ref]
	if !ok {
		return y
	}

	x := float64(treeMargin + depth*treeIndent)
	if n.Dead {
		dc.SetRGB(0.6, 0.6, 0.6)
	} else {
		dc.SetRGB(0.1, 0.3, 0.7)
	}
	label := fmt.Sprintf("#%d %s @0x%x", n.Ref, n.Type, n.Object)
	if n.Dead {
		label += " (dead)"
	}
	dc.DrawString(label, x, float64(y))

	next := y + treeRowHeight
	for _, c := range n.Children {
		next = drawTree(dc, byRef, c, depth+1, next, width)
	}
	return next
}
