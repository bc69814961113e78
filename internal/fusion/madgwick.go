package fusion

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateSample is returned when an update cannot run because the
// accelerometer (or magnetometer, for the full update) has zero norm.
var ErrDegenerateSample = errors.New("fusion: degenerate sensor sample")

// Madgwick is a gradient-descent attitude filter. Beta trades magnetometer/
// accelerometer trust against pure gyroscope integration.
type Madgwick struct {
	Beta float64
	q    quat.Number
}

// NewMadgwick returns a filter at the identity attitude.
func NewMadgwick(beta float64) *Madgwick {
	return &Madgwick{Beta: beta, q: quat.Number{Real: 1}}
}

// Orientation returns the current attitude estimate as a unit quaternion.
func (m *Madgwick) Orientation() quat.Number {
	return m.q
}

// Reset puts the filter back at the identity attitude.
func (m *Madgwick) Reset() {
	m.q = quat.Number{Real: 1}
}

// Update runs one full gyro+accel+mag step. Gyro is in rad/s, dt in seconds;
// accel and mag may be in any consistent units, they are normalized here.
func (m *Madgwick) Update(gyro, accel, mag r3.Vec, dt float64) error {
	an := r3.Norm(accel)
	mn := r3.Norm(mag)
	if an == 0 || mn == 0 {
		return ErrDegenerateSample
	}
	ax, ay, az := accel.X/an, accel.Y/an, accel.Z/an
	mx, my, mz := mag.X/mn, mag.Y/mn, mag.Z/mn

	q0, q1, q2, q3 := m.q.Real, m.q.Imag, m.q.Jmag, m.q.Kmag

	// Rate of change of quaternion from the gyroscope.
	qDot0 := 0.5 * (-q1*gyro.X - q2*gyro.Y - q3*gyro.Z)
	qDot1 := 0.5 * (q0*gyro.X + q2*gyro.Z - q3*gyro.Y)
	qDot2 := 0.5 * (q0*gyro.Y - q1*gyro.Z + q3*gyro.X)
	qDot3 := 0.5 * (q0*gyro.Z + q1*gyro.Y - q2*gyro.X)

	// Reference direction of Earth's magnetic field.
	hx := 2 * (mx*(0.5-q2*q2-q3*q3) + my*(q1*q2-q0*q3) + mz*(q1*q3+q0*q2))
	hy := 2 * (mx*(q1*q2+q0*q3) + my*(0.5-q1*q1-q3*q3) + mz*(q2*q3-q0*q1))
	bx := math.Sqrt(hx*hx + hy*hy)
	bz := 2 * (mx*(q1*q3-q0*q2) + my*(q2*q3+q0*q1) + mz*(0.5-q1*q1-q2*q2))

	// Gradient-descent corrective step.
	f1 := 2*(q1*q3-q0*q2) - ax
	f2 := 2*(q0*q1+q2*q3) - ay
	f3 := 2*(0.5-q1*q1-q2*q2) - az
	f4 := bx*(1-2*(q2*q2+q3*q3)) + 2*bz*(q1*q3-q0*q2) - mx
	f5 := 2*bx*(q1*q2-q0*q3) + 2*bz*(q0*q1+q2*q3) - my
	f6 := 2*bx*(q0*q2+q1*q3) + bz*(1-2*(q1*q1+q2*q2)) - mz

	s0 := -2*q2*f1 + 2*q1*f2 - 2*bz*q2*f4 + (-2*bx*q3+2*bz*q1)*f5 + 2*bx*q2*f6
	s1 := 2*q3*f1 + 2*q0*f2 - 4*q1*f3 + 2*bz*q3*f4 + (2*bx*q2+2*bz*q0)*f5 + (2*bx*q3-4*bz*q1)*f6
	s2 := -2*q0*f1 + 2*q3*f2 - 4*q2*f3 + (-4*bx*q2-2*bz*q0)*f4 + (2*bx*q1+2*bz*q3)*f5 + (2*bx*q0-4*bz*q2)*f6
	s3 := 2*q1*f1 + 2*q2*f2 + (-4*bx*q3+2*bz*q1)*f4 + (-2*bx*q0+2*bz*q2)*f5 + 2*bx*q1*f6

	norm := math.Sqrt(s0*s0 + s1*s1 + s2*s2 + s3*s3)
	if norm > 0 {
		s0, s1, s2, s3 = s0/norm, s1/norm, s2/norm, s3/norm
		qDot0 -= m.Beta * s0
		qDot1 -= m.Beta * s1
		qDot2 -= m.Beta * s2
		qDot3 -= m.Beta * s3
	}

	m.integrate(qDot0, qDot1, qDot2, qDot3, dt)
	return nil
}

// UpdateIMU runs one accel+gyro-only step, used when the magnetometer is
// judged unreliable. Orientation continuity is preserved; heading drifts
// with the gyroscope until the field recovers.
func (m *Madgwick) UpdateIMU(gyro, accel r3.Vec, dt float64) error {
	an := r3.Norm(accel)
	if an == 0 {
		return ErrDegenerateSample
	}
	ax, ay, az := accel.X/an, accel.Y/an, accel.Z/an

	q0, q1, q2, q3 := m.q.Real, m.q.Imag, m.q.Jmag, m.q.Kmag

	qDot0 := 0.5 * (-q1*gyro.X - q2*gyro.Y - q3*gyro.Z)
	qDot1 := 0.5 * (q0*gyro.X + q2*gyro.Z - q3*gyro.Y)
	qDot2 := 0.5 * (q0*gyro.Y - q1*gyro.Z + q3*gyro.X)
	qDot3 := 0.5 * (q0*gyro.Z + q1*gyro.Y - q2*gyro.X)

	f1 := 2*(q1*q3-q0*q2) - ax
	f2 := 2*(q0*q1+q2*q3) - ay
	f3 := 2*(0.5-q1*q1-q2*q2) - az

	s0 := -2*q2*f1 + 2*q1*f2
	s1 := 2*q3*f1 + 2*q0*f2 - 4*q1*f3
	s2 := -2*q0*f1 + 2*q3*f2 - 4*q2*f3
	s3 := 2*q1*f1 + 2*q2*f2

	norm := math.Sqrt(s0*s0 + s1*s1 + s2*s2 + s3*s3)
	if norm > 0 {
		s0, s1, s2, s3 = s0/norm, s1/norm, s2/norm, s3/norm
		qDot0 -= m.Beta * s0
		qDot1 -= m.Beta * s1
		qDot2 -= m.Beta * s2
		qDot3 -= m.Beta * s3
	}

	m.integrate(qDot0, qDot1, qDot2, qDot3, dt)
	return nil
}

func (m *Madgwick) integrate(qDot0, qDot1, qDot2, qDot3, dt float64) {
	q := quat.Number{
		Real: m.q.Real + qDot0*dt,
		Imag: m.q.Imag + qDot1*dt,
		Jmag: m.q.Jmag + qDot2*dt,
		Kmag: m.q.Kmag + qDot3*dt,
	}
	m.q = Normalize(q)
}
