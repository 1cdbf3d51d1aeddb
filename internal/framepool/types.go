package framepool

// Plane is one image plane and its row stride in bytes.
type Plane struct {
	Data   []byte
	Stride int
}

// Frame is a ready buffer handed to the consumer by AcquireNext.
//
// The plane data belongs to the pool and must be treated as read-only. It
// is only valid until Release; consumers that need the bytes longer must
// copy them.
type Frame struct {
	Y, U, V   Plane
	Timestamp int64 // hardware timestamp, nanoseconds
	Number    uint64

	pool *Pool
	slot int
	gen  uint64
}

// Buffer is a slot handed to the producer by Dequeue. The producer fills
// the planes and then calls Queue or Cancel exactly once.
type Buffer struct {
	Y, U, V   Plane
	Timestamp int64
	Number    uint64

	pool *Pool
	slot int
	gen  uint64
}

// Resize sizes the plane slices for g, reusing existing storage when it is
// large enough, and sets the strides.
func (b *Buffer) Resize(g Geometry) {
	b.Y = Plane{Data: grow(b.Y.Data, g.SizeY()), Stride: g.StrideY}
	b.U = Plane{Data: grow(b.U.Data, g.SizeU()), Stride: g.StrideU}
	b.V = Plane{Data: grow(b.V.Data, g.SizeV()), Stride: g.StrideV}
}

func grow(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n)
}

// Geometry describes a planar 4:2:0 layout.
type Geometry struct {
	Width, Height             int
	StrideY, StrideU, StrideV int
}

// I420 returns the default I420 layout for width x height: the luma stride
// is rounded up to 4 bytes, chroma planes are half size with their stride
// rounded up to 4 bytes as well.
func I420(width, height int) Geometry {
	chroma := roundUp4(roundUp2(width) / 2)
	return Geometry{
		Width:   width,
		Height:  height,
		StrideY: roundUp4(width),
		StrideU: chroma,
		StrideV: chroma,
	}
}

// SizeY returns the luma plane size in bytes.
func (g Geometry) SizeY() int { return g.StrideY * roundUp2(g.Height) }

// SizeU returns the U plane size in bytes.
func (g Geometry) SizeU() int { return g.StrideU * roundUp2(g.Height) / 2 }

// SizeV returns the V plane size in bytes.
func (g Geometry) SizeV() int { return g.StrideV * roundUp2(g.Height) / 2 }

// FrameSize returns the total size of the three planes.
func (g Geometry) FrameSize() int { return g.SizeY() + g.SizeU() + g.SizeV() }

func roundUp2(n int) int { return (n + 1) &^ 1 }
func roundUp4(n int) int { return (n + 3) &^ 3 }

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Capacity    int `json:"capacity"`
	Free        int `json:"free"`
	Ready       int `json:"ready"`
	Filling     int `json:"filling"`
	Outstanding int `json:"outstanding"`

	Dequeued       uint64 `json:"dequeued"`
	Queued         uint64 `json:"queued"`
	Acquired       uint64 `json:"acquired"`
	EmptyPolls     uint64 `json:"empty_polls"`
	Released       uint64 `json:"released"`
	Exhausted      uint64 `json:"exhausted"`
	DoubleReleases uint64 `json:"double_releases"`
}
