package availability

import "time"

// LessonType identifies a bookable kind of session.
type LessonType string

const (
	LessonResponsePractice      LessonType = "response_practice"
	LessonMicroResponsePractice LessonType = "micro_response_practice"
)

// DefaultLessonDurations is the lesson table used when none is injected.
var DefaultLessonDurations = map[LessonType]time.Duration{
	LessonResponsePractice:      30 * time.Minute,
	LessonMicroResponsePractice: 15 * time.Minute,
}

var lessonLabels = map[LessonType]string{
	LessonResponsePractice:      "Response Practice",
	LessonMicroResponsePractice: "Micro Response Practice",
}

// Label returns the display name of the lesson type.
func (l LessonType) Label() string {
	if label, ok := lessonLabels[l]; ok {
		return label
	}
	return string(l)
}

// Valid reports whether l is one of the known lesson types.
func (l LessonType) Valid() bool {
	_, ok := DefaultLessonDurations[l]
	return ok
}
