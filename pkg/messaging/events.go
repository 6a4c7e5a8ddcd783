package messaging

// Integration subjects published for out-of-scope collaborators
// (notification dispatch, timetable re-rendering) that consume committed
// enrollment events but are never called synchronously by this engine.
// The wire body on each subject is an eventstore.EventEnvelope, published
// by eventstore.PublishingStore - this package no longer defines its own
// competing event/envelope shape.
const (
	SubjectEnrollmentRequested = "enrollment.events.EnrollmentRequested"
	SubjectStudentEnrolled     = "enrollment.events.StudentEnrolled"
	SubjectStudentWaitlisted   = "enrollment.events.StudentWaitlisted"
	SubjectEnrollmentDenied    = "enrollment.events.EnrollmentDenied"
	SubjectEnrollmentDropped   = "enrollment.events.EnrollmentDropped"
	SubjectWaitlistPromoted    = "enrollment.events.WaitlistPromoted"
	SubjectWaitlistCancelled   = "enrollment.events.WaitlistCancelled"
)
