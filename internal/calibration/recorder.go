package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/airmouse/gearvr-bridge/internal/protocol"
)

// ErrNoSamples is returned when a parameter computation is requested but
// nothing was recorded. It is a precondition failure, reported to the user,
// and must never corrupt the existing calibration.
var ErrNoSamples = errors.New("calibration: no samples recorded")

// csvHeader matches the calibration data export format.
var csvHeader = []string{
	"timestamp_us",
	"accel_x", "accel_y", "accel_z",
	"gyro_x", "gyro_y", "gyro_z",
	"mag_x", "mag_y", "mag_z",
}

// Recorder accumulates raw samples for calibration. The magnetometer and
// gyroscope sample sets are independent: clearing one never discards
// in-flight samples of the other. While recording, every sample is also
// appended to a CSV export.
type Recorder struct {
	mu        sync.Mutex
	recording bool

	magSamples  []r3.Vec
	gyroSamples []r3.Vec

	file *os.File
	csv  *csv.Writer
}

// NewRecorder returns an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins recording, streaming rows to the CSV file at path. An empty
// path records in memory only.
func (r *Recorder) Start(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return errors.New("calibration: recording already in progress")
	}
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("calibration: create export file: %w", err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return fmt.Errorf("calibration: write export header: %w", err)
		}
		r.file = f
		r.csv = w
	}
	r.recording = true
	return nil
}

// Stop ends recording and closes the CSV export. Stopping an idle recorder
// is a no-op.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recording = false
	if r.csv != nil {
		r.csv.Flush()
		r.csv = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

// Record appends one raw sample to both sample sets. Samples arriving while
// the recorder is idle are ignored; this lets the recorder stay attached to
// the fusion engine's sample tap permanently.
func (r *Recorder) Record(sample protocol.RawSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	r.magSamples = append(r.magSamples, sample.Mag)
	r.gyroSamples = append(r.gyroSamples, sample.Gyro)

	if r.csv != nil {
		r.csv.Write([]string{
			strconv.FormatUint(uint64(sample.TimestampUS), 10),
			ftoa(sample.Accel.X), ftoa(sample.Accel.Y), ftoa(sample.Accel.Z),
			ftoa(sample.Gyro.X), ftoa(sample.Gyro.Y), ftoa(sample.Gyro.Z),
			ftoa(sample.Mag.X), ftoa(sample.Mag.Y), ftoa(sample.Mag.Z),
		})
	}
}

// ClearMag discards the magnetometer sample set only.
func (r *Recorder) ClearMag() {
	r.mu.Lock()
	r.magSamples = nil
	r.mu.Unlock()
}

// ClearGyro discards the gyroscope sample set only.
func (r *Recorder) ClearGyro() {
	r.mu.Lock()
	r.gyroSamples = nil
	r.mu.Unlock()
}

// MagBias computes the hard-iron bias as the componentwise mean of the
// recorded magnetometer samples.
func (r *Recorder) MagBias() (r3.Vec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return mean(r.magSamples)
}

// GyroBias computes the zero-rate bias as the componentwise mean of the
// recorded gyroscope samples.
func (r *Recorder) GyroBias() (r3.Vec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return mean(r.gyroSamples)
}

// MagSampleCount returns the size of the magnetometer sample set.
func (r *Recorder) MagSampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.magSamples)
}

// GyroSampleCount returns the size of the gyroscope sample set.
func (r *Recorder) GyroSampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gyroSamples)
}

func mean(samples []r3.Vec) (r3.Vec, error) {
	if len(samples) == 0 {
		return r3.Vec{}, ErrNoSamples
	}
	var sum r3.Vec
	for _, s := range samples {
		sum = r3.Add(sum, s)
	}
	return r3.Scale(1/float64(len(samples)), sum), nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
