package gateway

import (
	"encoding/json"

	"github.com/campusforge/enrollment-engine/internal/enrollment"
)

func marshalReport(report enrollment.AuditReport) ([]byte, error) {
	return json.Marshal(report)
}
