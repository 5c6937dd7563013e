package agentic

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/advisor"
	"github.com/shpitdev/docfetch/internal/lanes/portal"
	"github.com/shpitdev/docfetch/internal/links"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/trace"
	"github.com/shpitdev/docfetch/internal/util"
)

const defaultGoal = "Open the page, pass any access-code prompt, and download the statement or bill as a PDF."

// Lane hands the portal to the agent. It is the end of the escalation chain, so its
// outcome is Success or Fail.
type Lane struct {
	Agent  Agent
	PIN    advisor.PINExtractor
	Logger *zap.Logger
	Now    func() time.Time
}

func (l Lane) Run(ctx context.Context, req acquire.Request) acquire.LaneResult {
	rec := trace.NewRecorderWithClock(l.Now)
	log := logging.OrNop(l.Logger)
	fail := func(err error) acquire.LaneResult {
		rec.Add("lane3_agentic.error", map[string]any{"error": util.RedactSecrets(err.Error())})
		return acquire.LaneResult{Outcome: acquire.Fail{Err: err}, Trace: rec.Entries()}
	}

	target := req.PortalTarget()
	if target == "" {
		if ls := links.FromEmail(req.Email); len(ls) > 0 {
			target = ls[0].URL
		}
	}
	rec.Add("lane3_agentic.start", map[string]any{"url": util.RedactSecrets(target)})
	if target == "" {
		return fail(eris.New("no portal url for the agent"))
	}
	if l.Agent == nil {
		return fail(eris.New("no agent backend configured"))
	}

	task := Task{URL: target, Goal: defaultGoal, Context: map[string]string{}}
	if req.Policy.Instruction != "" {
		task.Goal = req.Policy.Instruction
	}
	if req.Email != nil {
		task.Context["message_id"] = req.Email.MessageID
		task.Context["subject"] = req.Email.Subject
		task.Context["sender"] = req.Email.Sender()
	}
	extractor := l.PIN
	if extractor == nil {
		extractor = advisor.RegexPINExtractor{}
	}
	var subject string
	if req.Email != nil {
		subject = req.Email.Subject
	}
	if pin, ok, err := extractor.ExtractPIN(ctx, subject, links.PlainText(req.Email), req.Policy.Instruction); err == nil && ok {
		task.PIN = pin.Code
	}
	rec.Add("lane3_agentic.submit", map[string]any{"pin_provided": task.PIN != ""})

	st, err := l.Agent.Run(ctx, task)
	for _, s := range st.Steps {
		data := map[string]any{"action": s.Action}
		if s.Detail != "" {
			data["detail"] = util.RedactSecrets(util.RedactValue(s.Detail, task.PIN))
		}
		rec.Add("lane3_agentic.step", data)
	}
	if err != nil {
		log.Warn("agent task did not finish", zap.String("url", util.RedactSecrets(target)), zap.Error(err))
		return fail(eris.Wrap(err, "agent"))
	}
	doc, err := st.Document(target)
	if err != nil {
		return fail(err)
	}
	doc.Name = portal.DocumentName(target)
	rec.Add("lane3_agentic.complete", map[string]any{"task_id": st.ID, "bytes": len(doc.Content), "steps": len(st.Steps)})
	log.Info("agent acquired document", zap.String("task_id", st.ID), zap.Int("bytes", len(doc.Content)))
	return acquire.LaneResult{Outcome: acquire.Success{Documents: []acquire.Document{doc}}, Trace: rec.Entries()}
}
