package main

import (
	"context"
	"fmt"

	"carescribe/internal/interview"
	"carescribe/internal/ipc"
	"carescribe/internal/service"
)

// handler maps control-socket commands onto the service.
type handler struct {
	svc *service.Service
}

func (h *handler) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	resp, err := h.dispatch(ctx, req)
	if err != nil {
		resp = ipc.Fail(err)
		resp.Session = req.Session
		return resp
	}
	resp.OK = true
	h.status(&resp)
	return resp
}

func (h *handler) dispatch(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	resp := ipc.Response{Session: req.Session}

	switch req.Cmd {
	case "open":
		resp.Session = h.svc.Open()

	case "begin":
		id, out, err := h.svc.BeginInterview(ctx, req.Text)
		if err != nil {
			return resp, err
		}
		resp.Session = id
		fromOutcome(&resp, out)

	case "submit":
		out, err := h.svc.SubmitTurn(ctx, req.Session, req.Text)
		if err != nil {
			return resp, err
		}
		fromOutcome(&resp, out)

	case "voice":
		out, err := h.svc.SubmitVoice(ctx, req.Session)
		if err != nil {
			return resp, err
		}
		fromOutcome(&resp, out)

	case "record":
		return resp, h.svc.StartRecording(ctx, req.Session)

	case "pause":
		return resp, h.svc.PauseRecording(req.Session)

	case "resume":
		return resp, h.svc.ResumeRecording(req.Session)

	case "stop":
		seg, err := h.svc.RecordVoiceSegment(ctx, req.Session)
		if err != nil {
			return resp, err
		}
		resp.Segment = &seg

	case "retry":
		seg, err := h.svc.RetrySegment(ctx, req.Session, req.Segment)
		if err != nil {
			return resp, err
		}
		resp.Segment = &seg

	case "delete":
		return resp, h.svc.DeleteSegment(req.Session, req.Segment)

	case "import":
		seg, err := h.svc.ImportAudio(ctx, req.Session, req.Path)
		if err != nil {
			return resp, err
		}
		resp.Segment = &seg

	case "segments":
		segs, err := h.svc.GetSegments(req.Session)
		if err != nil {
			return resp, err
		}
		resp.Segments = segs

	case "report":
		rep, err := h.svc.GetFinalReport(req.Session)
		if err != nil {
			return resp, err
		}
		resp.Report = &rep

	case "close":
		return resp, h.svc.Close(req.Session)

	default:
		return resp, fmt.Errorf("unknown command %q", req.Cmd)
	}

	return resp, nil
}

// status fills the interview and recorder state of a live session.
func (h *handler) status(resp *ipc.Response) {
	if resp.Session == "" {
		return
	}
	sess, err := h.svc.Interview(resp.Session)
	if err != nil {
		return
	}
	resp.State = string(sess.State())
	resp.Progress = sess.Progress()
	if st, err := h.svc.RecorderState(resp.Session); err == nil {
		resp.Recorder = string(st)
	}
}

func fromOutcome(resp *ipc.Response, out interview.Outcome) {
	resp.State = string(out.State)
	resp.Question = out.Question
	resp.Report = out.Report
	resp.Progress = out.Progress
}
