package train

import (
	"fmt"
	"math"
)

// Accuracy is the fraction of predictions that equal their label.
// Zero samples gives zero accuracy.
func Accuracy(predictions, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, p := range predictions {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// ConfusionMatrix counts m[label][prediction] over nClasses classes
func ConfusionMatrix(predictions, labels []int, nClasses int) ([][]int, error) {
	if len(predictions) != len(labels) {
		return nil, fmt.Errorf("%v predictions but %v labels", len(predictions), len(labels))
	}
	m := make([][]int, nClasses)
	for i := range m {
		m[i] = make([]int, nClasses)
	}
	for i, p := range predictions {
		l := labels[i]
		if l < 0 || l >= nClasses || p < 0 || p >= nClasses {
			return nil, fmt.Errorf("Class out of range: label %v, prediction %v", l, p)
		}
		m[l][p]++
	}
	return m, nil
}

// NormalizeRows divides each row by its sum, and rounds to 2 decimals.
// A row with no samples stays all zero.
func NormalizeRows(m [][]int) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		total := 0
		for _, c := range row {
			total += c
		}
		if total == 0 {
			continue
		}
		for j, c := range row {
			out[i][j] = math.Round(float64(c)/float64(total)*100) / 100
		}
	}
	return out
}
