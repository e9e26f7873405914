package bpmn

// Layout pitch bounds along the horizontal axis.
const (
	DefaultPitch = 180
	MinPitch     = 150
	MaxPitch     = 1000
)

// Fixed geometry of the diagram layer.
const (
	originX       = 160
	originY       = 80
	poolLabelBand = 30
	poolPadding   = 50
	laneHeight    = 240
	rowOffset     = 100 // main row centre, measured from the pool top
	branchDrop    = 50  // gap between the lowest shape and a "No" channel

	annotationWidth  = 180
	annotationHeight = 60
	annotationGap    = 40
)

type size struct{ w, h int }

var nodeSizes = map[NodeKind]size{
	NodeStart:   {36, 36},
	NodeEnd:     {36, 36},
	NodeTask:    {100, 80},
	NodeGateway: {50, 50},
}

// Bounds is a shape rectangle in diagram coordinates.
type Bounds struct {
	X, Y, Width, Height int
}

// Right returns the x coordinate of the right edge.
func (b Bounds) Right() int { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge.
func (b Bounds) Bottom() int { return b.Y + b.Height }

// CenterX returns the horizontal centre.
func (b Bounds) CenterX() int { return b.X + b.Width/2 }

// CenterY returns the vertical centre.
func (b Bounds) CenterY() int { return b.Y + b.Height/2 }

// Point is an edge waypoint.
type Point struct {
	X, Y int
}

// Layout holds shape bounds and edge waypoints keyed by semantic element id.
type Layout struct {
	Pitch  int
	Shapes map[string]Bounds
	Labels map[string]Bounds
	Edges  map[string][]Point
}

// computeLayout places backbone nodes on a fixed horizontal pitch, stacks one
// pool per participant and routes edges as orthogonal polylines.
func computeLayout(g *Graph, pitch int) *Layout {
	pitch = min(max(pitch, MinPitch), MaxPitch)
	lay := &Layout{
		Pitch:  pitch,
		Shapes: make(map[string]Bounds),
		Labels: make(map[string]Bounds),
		Edges:  make(map[string][]Point),
	}

	lastCol := len(g.Backbone) - 1
	poolWidth := columnCenter(lastCol, pitch) + nodeSizes[NodeTask].w/2 + poolPadding - originX

	for i, p := range g.Participants {
		lay.Shapes[p.ID] = Bounds{
			X:      originX,
			Y:      originY + i*laneHeight,
			Width:  poolWidth,
			Height: laneHeight,
		}
	}

	for _, n := range g.Backbone {
		sz := nodeSizes[n.Kind]
		cx := columnCenter(n.Column, pitch)
		cy := originY + n.Lane*laneHeight + rowOffset
		lay.Shapes[n.ID] = Bounds{X: cx - sz.w/2, Y: cy - sz.h/2, Width: sz.w, Height: sz.h}
	}

	for _, f := range g.Flows {
		src, dst := lay.Shapes[f.Source], lay.Shapes[f.Target]
		if f.Branch {
			lay.Edges[f.ID] = branchRoute(src, dst)
			lay.Labels[f.ID] = Bounds{X: src.CenterX() + 6, Y: src.Bottom() + 4, Width: 18, Height: 14}
			continue
		}
		lay.Edges[f.ID] = forwardRoute(src, dst)
		if f.Name != "" {
			lay.Labels[f.ID] = Bounds{X: src.Right() + 6, Y: src.CenterY() - 20, Width: 22, Height: 14}
		}
	}

	annotationY := originY + len(g.Participants)*laneHeight + annotationGap
	for i, a := range g.Annotations {
		lay.Shapes[a.ID] = Bounds{
			X:      originX + i*(annotationWidth+annotationGap),
			Y:      annotationY,
			Width:  annotationWidth,
			Height: annotationHeight,
		}
	}

	return lay
}

// columnCenter returns the horizontal centre of a backbone column.
func columnCenter(col, pitch int) int {
	return originX + poolLabelBand + poolPadding + nodeSizes[NodeTask].w/2 + col*pitch
}

// forwardRoute connects the right edge of src to the left edge of dst. Nodes in
// different lanes get a horizontal-vertical-horizontal dogleg.
func forwardRoute(src, dst Bounds) []Point {
	sy, dy := src.CenterY(), dst.CenterY()
	if sy == dy {
		return []Point{{src.Right(), sy}, {dst.X, dy}}
	}
	midX := (src.Right() + dst.X) / 2
	return []Point{{src.Right(), sy}, {midX, sy}, {midX, dy}, {dst.X, dy}}
}

// branchRoute leaves src downwards, runs below both shapes and comes back up
// into the bottom of dst.
func branchRoute(src, dst Bounds) []Point {
	channel := max(src.Bottom(), dst.Bottom()) + branchDrop
	return []Point{
		{src.CenterX(), src.Bottom()},
		{src.CenterX(), channel},
		{dst.CenterX(), channel},
		{dst.CenterX(), dst.Bottom()},
	}
}
