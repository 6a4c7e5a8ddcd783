package enrollment

import (
	"context"
	"log"
	"time"
)

// SectionLister supplies the working set of section IDs the reconciler
// should sweep. A real deployment backs this with the registrar's course
// catalog; tests and the in-process demo back it with a static list.
type SectionLister interface {
	ListSectionIDs(ctx context.Context) ([]string, error)
}

// StaticSectionLister is a SectionLister over a fixed, in-memory list.
type StaticSectionLister []string

func (s StaticSectionLister) ListSectionIDs(ctx context.Context) ([]string, error) {
	return []string(s), nil
}

// StudentLister supplies the working set of student IDs audit_state walks.
type StudentLister interface {
	ListStudentIDs(ctx context.Context) ([]string, error)
}

// StaticStudentLister is a StudentLister over a fixed, in-memory list.
type StaticStudentLister []string

func (s StaticStudentLister) ListStudentIDs(ctx context.Context) ([]string, error) {
	return []string(s), nil
}

// Reconciler runs two periodic background passes against a Coordinator:
// retrying waitlist promotions DropEnrollment's inline attempt left stuck,
// and running audit_state to surface invariant violations for operators.
// It never repairs anything itself, mirroring audit_state's own
// never-auto-repair contract.
type Reconciler struct {
	coordinator      *Coordinator
	sections         SectionLister
	students         StudentLister
	promotionPeriod  time.Duration
	auditPeriod      time.Duration
	onAuditReport    func(AuditReport)

	stopCh chan struct{}
}

// NewReconciler builds a Reconciler. onAuditReport may be nil; when set, it
// is called with every AuditState pass's report (the gateway wires this to
// its admin-facing audit stream).
func NewReconciler(coordinator *Coordinator, sections SectionLister, students StudentLister, promotionPeriod, auditPeriod time.Duration, onAuditReport func(AuditReport)) *Reconciler {
	return &Reconciler{
		coordinator:     coordinator,
		sections:        sections,
		students:        students,
		promotionPeriod: promotionPeriod,
		auditPeriod:     auditPeriod,
		onAuditReport:   onAuditReport,
		stopCh:          make(chan struct{}),
	}
}

// Start runs both periodic passes until ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	go r.runPromotionSweep(ctx)
	go r.runAuditSweep(ctx)
}

// Stop signals both loops to exit.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) runPromotionSweep(ctx context.Context) {
	ticker := time.NewTicker(r.promotionPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepPromotions(ctx)
		}
	}
}

func (r *Reconciler) sweepPromotions(ctx context.Context) {
	sectionIDs, err := r.sections.ListSectionIDs(ctx)
	if err != nil {
		log.Printf("enrollment: reconciler: list sections: %v", err)
		return
	}
	for _, sectionID := range r.coordinator.PromotablesIn(ctx, sectionIDs) {
		r.coordinator.RetryPromotion(ctx, sectionID)
	}
}

func (r *Reconciler) runAuditSweep(ctx context.Context) {
	ticker := time.NewTicker(r.auditPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepAudit(ctx)
		}
	}
}

func (r *Reconciler) sweepAudit(ctx context.Context) {
	sectionIDs, err := r.sections.ListSectionIDs(ctx)
	if err != nil {
		log.Printf("enrollment: reconciler: list sections for audit: %v", err)
		return
	}
	studentIDs, err := r.students.ListStudentIDs(ctx)
	if err != nil {
		log.Printf("enrollment: reconciler: list students for audit: %v", err)
		return
	}

	report, err := r.coordinator.AuditState(ctx, studentIDs, sectionIDs)
	if err != nil {
		log.Printf("enrollment: reconciler: audit_state: %v", err)
		return
	}
	if len(report.Violations) > 0 {
		log.Printf("enrollment: reconciler: audit_state found %d violation(s)", len(report.Violations))
	}
	if r.onAuditReport != nil {
		r.onAuditReport(report)
	}
}
