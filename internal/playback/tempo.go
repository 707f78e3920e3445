package playback

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MinStageSpeed and MaxStageSpeed bound a single time-stretch stage.
	// Outside this range the stretch primitive degrades audibly, so larger
	// changes are built from several stages.
	MinStageSpeed = 0.5
	MaxStageSpeed = 2.0

	// DefaultSpeed is normal playback.
	DefaultSpeed = 1.0
)

// BuildTempoChain splits speed into a list of stage multipliers whose product
// is speed and which each lie within [MinStageSpeed, MaxStageSpeed]. Normal
// speed yields an empty chain, meaning no filter at all.
func BuildTempoChain(speed float64) ([]float64, error) {
	if err := ValidateSpeed(speed); err != nil {
		return nil, err
	}
	if speed == DefaultSpeed {
		return nil, nil
	}

	var chain []float64
	remaining := speed
	for remaining > MaxStageSpeed {
		chain = append(chain, MaxStageSpeed)
		remaining /= MaxStageSpeed
	}
	for remaining < MinStageSpeed {
		chain = append(chain, MinStageSpeed)
		remaining /= MinStageSpeed
	}
	return append(chain, remaining), nil
}

// ValidateSpeed rejects speeds that are not finite and positive.
func ValidateSpeed(speed float64) error {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	return nil
}

// FormatAtempo renders a chain as an ffmpeg filter description, e.g.
// "atempo=2.000000,atempo=1.500000".
func FormatAtempo(chain []float64) string {
	stages := make([]string, len(chain))
	for i, s := range chain {
		stages[i] = fmt.Sprintf("atempo=%f", s)
	}
	return strings.Join(stages, ",")
}

// speedSteps are the presets offered by step controls.
var speedSteps = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 3.0}

// NextSpeed returns the next preset above current, or current at the top.
func NextSpeed(current float64) float64 {
	for _, s := range speedSteps {
		if s > current+1e-9 {
			return s
		}
	}
	return current
}

// PrevSpeed returns the next preset below current, or current at the bottom.
func PrevSpeed(current float64) float64 {
	for i := len(speedSteps) - 1; i >= 0; i-- {
		if speedSteps[i] < current-1e-9 {
			return speedSteps[i]
		}
	}
	return current
}

// SpeedLabel returns a short human-readable speed such as "1.25x".
func SpeedLabel(speed float64) string {
	label := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", speed), "0"), ".")
	return label + "x"
}
