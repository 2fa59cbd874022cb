package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

const NodeSize = 64

// Matches WGSL TLASNode
// struct TLASNode {
//    aabb_min : vec4<f32>; (16)
//    aabb_max : vec4<f32>; (16)
//    left : i32; (4)
//    right : i32; (4)
//    instance : i32; (4)
//    count : i32; (4)
//    padding : i32[4]; (16)
// }; -> 64 bytes

type Node struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Left     int32
	Right    int32
	Instance int32
	Count    int32
}

func (n *Node) IsLeaf() bool { return n.Left < 0 && n.Right < 0 }

func (n *Node) ToBytes() []byte {
	buf := make([]byte, NodeSize)

	// Min (vec4)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))

	// Max (vec4)
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))

	// Ints
	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.Instance))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.Count))
	return buf
}

// Leaf is one instance as the top level sees it: world bounds plus its slot in the instance table.
type Leaf struct {
	Bounds [2]mgl32.Vec3
	Slot   int32
}

type item struct {
	min      mgl32.Vec3
	max      mgl32.Vec3
	centroid mgl32.Vec3
	slot     int32
}

// TLASBuilder builds the top-level acceleration structure over instance bounds with a median
// split on the longest axis.
type TLASBuilder struct{}

func (b *TLASBuilder) Build(leaves []Leaf) []Node {
	items := make([]item, 0, len(leaves))
	for _, l := range leaves {
		// inverted boxes come from empty geometry
		if l.Bounds[0].X() > l.Bounds[1].X() {
			continue
		}
		items = append(items, item{
			min:      l.Bounds[0],
			max:      l.Bounds[1],
			centroid: l.Bounds[0].Add(l.Bounds[1]).Mul(0.5),
			slot:     l.Slot,
		})
	}
	if len(items) == 0 {
		return []Node{{Left: -1, Right: -1, Instance: -1}}
	}

	nodes := make([]Node, 0, 2*len(items)-1)
	b.recursiveBuild(items, &nodes)
	return nodes
}

// Encode flattens nodes into the GPU layout.
func Encode(nodes []Node) []byte {
	if len(nodes) == 0 {
		return make([]byte, NodeSize)
	}
	out := make([]byte, 0, len(nodes)*NodeSize)
	for i := range nodes {
		out = append(out, nodes[i].ToBytes()...)
	}
	return out
}

func (b *TLASBuilder) recursiveBuild(items []item, nodes *[]Node) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, Node{Left: -1, Right: -1, Instance: -1})

	inf := float32(math.Inf(1))
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, it := range items {
		minB = mgl32.Vec3{min(minB.X(), it.min.X()), min(minB.Y(), it.min.Y()), min(minB.Z(), it.min.Z())}
		maxB = mgl32.Vec3{max(maxB.X(), it.max.X()), max(maxB.Y(), it.max.Y()), max(maxB.Z(), it.max.Z())}
	}
	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	if len(items) == 1 {
		(*nodes)[idx].Instance = items[0].slot
		(*nodes)[idx].Count = 1
		return idx
	}

	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].centroid[axis] < items[j].centroid[axis]
	})

	mid := len(items) / 2
	left := b.recursiveBuild(items[:mid], nodes)
	right := b.recursiveBuild(items[mid:], nodes)
	(*nodes)[idx].Left = left
	(*nodes)[idx].Right = right
	return idx
}
