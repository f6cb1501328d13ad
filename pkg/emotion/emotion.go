// Package emotion defines the label space of the classifier.
//
// The position of a category in Categories is its class index. The same list is used to
// label the training data, is recorded inside every checkpoint, and is used to turn a
// predicted index back into a name at inference time.
package emotion

import (
	"fmt"
	"slices"
)

// Categories is the ordered list of emotion classes
var Categories = []string{
	"Anger",
	"Contempt",
	"Disgust",
	"Fear",
	"Happy",
	"Neutral",
	"Sad",
	"Surprise",
}

// NumClasses is the width of the classifier output
const NumClasses = 8

// Display languages for on-screen labels
const (
	LangEnglish    = "en"
	LangVietnamese = "vi"
)

// Display names, indexed by class. These never define the label space.
var displayNames = map[string][]string{
	LangEnglish:    Categories,
	LangVietnamese: {"Tuc Gian", "Khinh bi", "Kinh Tom", "So Hai", "Vui", "Binh Thuong", "Buon", "Ngac Nhien"},
}

// Label returns the category name of a class index
func Label(class int) string {
	if class < 0 || class >= len(Categories) {
		return fmt.Sprintf("class%d", class)
	}
	return Categories[class]
}

// Index returns the class index of a category name, or -1
func Index(name string) int {
	return slices.Index(Categories, name)
}

// DisplayName returns the on-screen name of a class in the given language.
// Unknown languages fall back to English.
func DisplayName(lang string, class int) string {
	names, ok := displayNames[lang]
	if !ok || class < 0 || class >= len(names) {
		return Label(class)
	}
	return names[class]
}

// IsSupportedLanguage returns true if DisplayName knows the language
func IsSupportedLanguage(lang string) bool {
	_, ok := displayNames[lang]
	return ok
}

// VerifyCategories returns an error if a category list recorded elsewhere (eg inside a
// checkpoint) is not the same literal sequence as Categories. A reordered list would make
// every prediction silently mean the wrong emotion.
func VerifyCategories(other []string) error {
	if !slices.Equal(other, Categories) {
		return fmt.Errorf("Category list %v does not match %v", other, Categories)
	}
	return nil
}
