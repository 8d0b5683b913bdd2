package format

import "fmt"

// HumanNumber formats a count with a metric suffix, e.g. 1100 -> "1.10K".
func HumanNumber(b uint64) string {
	const (
		Thousand = 1000
		Million  = Thousand * 1000
		Billion  = Million * 1000
	)

	switch {
	case b >= Billion:
		return fmt.Sprintf("%s B", decimalPlace(float64(b)/Billion))
	case b >= Million:
		return fmt.Sprintf("%s M", decimalPlace(float64(b)/Million))
	case b >= Thousand:
		return fmt.Sprintf("%s K", decimalPlace(float64(b)/Thousand))
	default:
		return fmt.Sprintf("%d", b)
	}
}

func decimalPlace(number float64) string {
	switch {
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}
