package geom

// FloatsPerTransform is the flattened size of one instance transform:
// a 3x4 row-major affine matrix (basis row followed by the origin component).
const FloatsPerTransform = 12

// TransformFormat tells a render consumer how instance buffers are laid out.
type TransformFormat uint8

const (
	Transform2D TransformFormat = 2
	Transform3D TransformFormat = 3
)

// Basis holds the three basis column vectors of a 3x3 orientation.
type Basis struct {
	X, Y, Z Vec3
}

var Identity = Basis{X: Right, Y: Up, Z: Back}

// Transform is an orientation plus an origin.
type Transform struct {
	Basis  Basis
	Origin Vec3
}

func NewTransform(origin Vec3) Transform {
	return Transform{Basis: Identity, Origin: origin}
}

// Flatten writes the transform into dst[0:12] as
//
//	[X.x Y.x Z.x O.x  X.y Y.y Z.y O.y  X.z Y.z Z.z O.z]
//
// dst must hold at least FloatsPerTransform values.
func (t *Transform) Flatten(dst []float32) {
	_ = dst[FloatsPerTransform-1]
	b := &t.Basis
	o := &t.Origin
	dst[0] = b.X.X
	dst[1] = b.Y.X
	dst[2] = b.Z.X
	dst[3] = o.X
	dst[4] = b.X.Y
	dst[5] = b.Y.Y
	dst[6] = b.Z.Y
	dst[7] = o.Y
	dst[8] = b.X.Z
	dst[9] = b.Y.Z
	dst[10] = b.Z.Z
	dst[11] = o.Z
}

// FlattenAll writes every transform into consecutive 12-float slots of dst.
func FlattenAll(dst []float32, transforms []Transform) {
	next := 0
	for i := range transforms {
		transforms[i].Flatten(dst[next : next+FloatsPerTransform])
		next += FloatsPerTransform
	}
}
