package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/clientinfo"
	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/apperrors"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/metrics"
	"github.com/ElonQian1/QuickTalk--sub006/internal/ratelimit"
)

// TenantSnapshotter is the read side of the shop registry.
type TenantSnapshotter interface {
	Snapshot(ctx context.Context) ([]*model.Tenant, error)
}

// AccessRecorder receives one entry per admission decision.
type AccessRecorder interface {
	Record(entry *model.AccessLog)
}

// Admission 是准入网关的核心：来源校验 → 限流 → 审计
type Admission struct {
	extractor *clientinfo.Extractor
	registry  TenantSnapshotter
	engine    *TrustEngine
	limiters  *ratelimit.Limiters
	auditor   AccessRecorder
	logger    *slog.Logger
}

// AdmissionResult carries everything the HTTP layer needs. Err is nil when
// the request may proceed.
type AdmissionResult struct {
	Context *model.ClientContext
	Verdict model.ValidationVerdict
	Rate    *model.RateLimitVerdict
	Err     *apperrors.AppError
}

func NewAdmission(
	extractor *clientinfo.Extractor,
	registry TenantSnapshotter,
	engine *TrustEngine,
	limiters *ratelimit.Limiters,
	auditor AccessRecorder,
	logger *slog.Logger,
) *Admission {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admission{
		extractor: extractor,
		registry:  registry,
		engine:    engine,
		limiters:  limiters,
		auditor:   auditor,
		logger:    logger,
	}
}

// Admit decides whether req may reach a handler of the given class.
func (a *Admission) Admit(req *http.Request, requestID string, class model.OperationClass) AdmissionResult {
	ctx := req.Context()
	cc := a.extractor.Extract(req)
	res := AdmissionResult{Context: cc}

	tenants, err := a.registry.Snapshot(ctx)
	if err != nil {
		a.logger.Error("shop registry unavailable, denying", "error", err, "ip", cc.SourceIP)
		res.Verdict = model.Deny("shop registry unavailable")
		res.Err = apperrors.NewRegistryUnavailable(err)
		a.record(req, requestID, class, model.StageTrust, res)
		return res
	}

	res.Verdict = a.engine.Validate(ctx, cc, tenants)
	if !res.Verdict.Allowed {
		a.logger.Info("request denied by domain check",
			"ip", cc.SourceIP,
			"domain", cc.PrimaryDomain(),
			"reason", res.Verdict.Reason,
		)
		res.Err = apperrors.NewDomainNotAllowed("Domain not authorized to access this service")
		a.record(req, requestID, class, model.StageTrust, res)
		return res
	}

	rv, err := a.limiters.Allow(class, a.limiters.Key(cc, res.Verdict))
	if err != nil {
		res.Err = apperrors.New(apperrors.ErrInternal, "Internal server error", err)
		a.record(req, requestID, class, model.StageRateLimit, res)
		return res
	}
	res.Rate = &rv
	if !rv.Allowed {
		res.Err = apperrors.NewRateLimited(rv.RetryAfterSeconds).WithDetails(map[string]any{
			"limit":     rv.Limit,
			"resetTime": rv.ResetAt.UTC().Format(time.RFC3339),
		})
		a.record(req, requestID, class, model.StageRateLimit, res)
		return res
	}

	a.record(req, requestID, class, model.StageAdmitted, res)
	return res
}

func (a *Admission) record(req *http.Request, requestID string, class model.OperationClass, stage model.AccessStage, res AdmissionResult) {
	allowed := res.Err == nil
	result := "deny"
	if allowed {
		result = "allow"
	}
	metrics.AdmissionDecisions.WithLabelValues(string(stage), result, string(res.Verdict.MatchedBy)).Inc()

	if a.auditor == nil {
		return
	}
	cc := res.Context
	reason := res.Verdict.Reason
	if res.Err != nil && stage == model.StageRateLimit {
		reason = res.Err.Message
	}
	entry := &model.AccessLog{
		RequestID: requestID,
		Stage:     stage,
		Allowed:   allowed,
		MatchedBy: res.Verdict.MatchedBy,
		Reason:    reason,
		TenantID:  res.Verdict.TenantID(),
		Class:     class,
		IP:        cc.SourceIP,
		Domain:    cc.PrimaryDomain(),
		Referer:   cc.RefererURL,
		Origin:    cc.OriginURL,
		UserAgent: cc.UserAgent,
		Method:    req.Method,
		Path:      req.URL.Path,
		Context:   cc,
		CreatedAt: time.Now().UTC(),
	}
	if res.Verdict.Tenant != nil {
		entry.TenantName = res.Verdict.Tenant.Name
	}
	a.auditor.Record(entry)
}
