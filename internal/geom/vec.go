package geom

import "math"

// Vec3 is a 3-component float32 vector. Y is up; the ground plane is XZ.
type Vec3 struct {
	X, Y, Z float32
}

var (
	Zero  = Vec3{}
	Right = Vec3{X: 1}
	Up    = Vec3{Y: 1}
	Back  = Vec3{Z: 1}
)

func V(x, y, z float32) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float32) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Dot(o Vec3) float32   { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) LengthSquared() float32 { return v.X*v.X + v.Y*v.Y + v.Z*v.Z }

func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.LengthSquared())))
}

// Normalized returns v scaled to unit length, or the zero vector when v is zero.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return Zero
	}
	return v.Scale(1 / l)
}

// DirectionTo returns the unit vector pointing from v to o.
func (v Vec3) DirectionTo(o Vec3) Vec3 {
	return o.Sub(v).Normalized()
}

func (v Vec3) DistanceSquaredTo(o Vec3) float32 {
	return o.Sub(v).LengthSquared()
}

// DistanceSquaredXZ ignores the vertical axis.
func (v Vec3) DistanceSquaredXZ(o Vec3) float32 {
	dx := o.X - v.X
	dz := o.Z - v.Z
	return dx*dx + dz*dz
}

// Lerp interpolates linearly from v toward o by weight t.
func (v Vec3) Lerp(o Vec3, t float32) Vec3 {
	return Vec3{
		v.X + (o.X-v.X)*t,
		v.Y + (o.Y-v.Y)*t,
		v.Z + (o.Z-v.Z)*t,
	}
}

// MoveToward moves v toward to by at most delta, never overshooting.
func (v Vec3) MoveToward(to Vec3, delta float32) Vec3 {
	d := to.Sub(v)
	l := d.Length()
	if l <= delta || l < 1e-6 {
		return to
	}
	return v.Add(d.Scale(delta / l))
}

// ClampLength limits the vector length to max.
func (v Vec3) ClampLength(max float32) Vec3 {
	l := v.Length()
	if l <= max || l == 0 {
		return v
	}
	return v.Scale(max / l)
}
