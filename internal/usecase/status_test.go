package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/fairyhunter13/sprite-forge/internal/domain"
)

type fakeJobs struct{ jobs map[string]*domain.Job }

func (f *fakeJobs) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.NewClassifiedError(domain.KindDatabase, false, "job not found: "+jobID)
	}
	return j, nil
}

func TestStatus_CompletedJobCarriesCachedArtifact(t *testing.T) {
	c := newFakeCache()
	c.artifacts["fp-1"] = &domain.Artifact{RemoteJobID: "char-1", DownloadURL: "https://cdn.example/a.zip"}
	jobs := &fakeJobs{jobs: map[string]*domain.Job{
		"j1": {ID: "j1", State: domain.JobCompleted, Fingerprint: "fp-1", Attempts: 1, SubmittedAt: time.Now().UTC()},
	}}

	s := NewStatusService(jobs, c)
	st, err := s.Status(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Artifact == nil || st.Artifact.RemoteJobID != "char-1" {
		t.Fatalf("artifact = %+v", st.Artifact)
	}
	if st.State != domain.JobCompleted || st.Attempts != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestStatus_NonTerminalJobHasNoArtifact(t *testing.T) {
	c := newFakeCache()
	c.artifacts["fp-1"] = &domain.Artifact{RemoteJobID: "char-1"}
	jobs := &fakeJobs{jobs: map[string]*domain.Job{
		"j1": {ID: "j1", State: domain.JobPolling, Fingerprint: "fp-1", SubmittedAt: time.Now().UTC()},
	}}

	s := NewStatusService(jobs, c)
	st, err := s.Status(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Artifact != nil {
		t.Fatalf("polling job returned an artifact")
	}
}

func TestStatus_MissingJob(t *testing.T) {
	s := NewStatusService(&fakeJobs{jobs: map[string]*domain.Job{}}, newFakeCache())
	if _, err := s.Status(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for a missing job")
	}
}
