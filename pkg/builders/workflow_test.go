package builders_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/poltergeist/dockerstage/internal/state"
	"github.com/poltergeist/dockerstage/pkg/builders"
	"github.com/poltergeist/dockerstage/pkg/engine"
	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/mocks"
	"github.com/poltergeist/dockerstage/pkg/staging"
	"github.com/poltergeist/dockerstage/pkg/types"
)

type recordingNotifier struct {
	successes []types.ImageIdentity
	failures  []error
}

func (n *recordingNotifier) NotifyBuildSuccess(image types.ImageIdentity, _ time.Duration) {
	n.successes = append(n.successes, image)
}

func (n *recordingNotifier) NotifyBuildFailure(_ string, err error) {
	n.failures = append(n.failures, err)
}

func newJob(t *testing.T) *types.JobConfig {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("src/main/docker/Dockerfile", "FROM alpine\nCOPY app.jar /app.jar\n")
	write("target/app.jar", "jar")
	write("target/classes/Main.class", "class")

	return &types.JobConfig{
		Directory: filepath.Join(root, "src", "main", "docker"),
		ImageName: "example/app",
		ImageTags: []string{"v1", "v2"},
		Resources: []types.ResourceRule{
			{Directory: filepath.Join(root, "target"), Includes: []string{"*.jar"}},
		},
		OutputDirectory: filepath.Join(root, "build"),
		Build:           types.BuildOptions{ForceRemove: true},
	}
}

func builtStream() *mocks.FakeStream {
	return mocks.NewFakeStream(
		engine.Event{Stream: "Step 1/2 : FROM alpine\n"},
		engine.Event{Stream: "Step 2/2 : COPY app.jar /app.jar\n"},
		engine.Event{ImageID: testImageID},
	)
}

func anonymous() builders.RunOption {
	return builders.WithRegistryCredentials(builders.AnonymousCredentials)
}

func TestRun_FullWorkflow(t *testing.T) {
	cfg := newJob(t)
	cfg.Push = true
	cfg.Remove = true

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	eng := mocks.NewMockEngine(ctrl)
	notifier := &recordingNotifier{}

	gomock.InOrder(
		factory.EXPECT().Open(gomock.Any(), cfg.Engine).Return(eng, nil),
		eng.EXPECT().Build(gomock.Any(), cfg.StagingDirectory(), cfg.Build).Return(builtStream(), nil),
		eng.EXPECT().Tag(gomock.Any(), testImageID, "example/app", "v1").Return(nil),
		eng.EXPECT().Tag(gomock.Any(), testImageID, "example/app", "v2").Return(nil),
		eng.EXPECT().Push(gomock.Any(), "example/app", "v1", gomock.Nil()).Return(mocks.NewFakeStream(), nil),
		eng.EXPECT().Push(gomock.Any(), "example/app", "v2", gomock.Nil()).Return(mocks.NewFakeStream(), nil),
		eng.EXPECT().Remove(gomock.Any(), testImageID, true).Return(nil),
		eng.EXPECT().Close().Return(nil),
	)

	log := mocks.NewMockLogger()
	result, err := builders.Run(context.Background(), cfg, factory, log, anonymous(), builders.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Identity == nil || result.Identity.ID != testImageID {
		t.Fatalf("unexpected identity %+v", result.Identity)
	}
	if !result.Pushed || !result.Removed || result.RemovalErr != nil {
		t.Errorf("unexpected result %+v", result)
	}
	if result.BuildID == "" {
		t.Error("expected a build id")
	}

	// The primary Dockerfile and the matched resource are both staged
	for _, f := range []string{"Dockerfile", "app.jar"} {
		if _, err := os.Stat(filepath.Join(cfg.StagingDirectory(), f)); err != nil {
			t.Errorf("expected %s in staging dir: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.StagingDirectory(), "classes")); !os.IsNotExist(err) {
		t.Error("unmatched resource files must not be staged")
	}

	if !log.Contains("Building image example/app") || !log.Contains("Step 2/2 : COPY app.jar /app.jar") {
		t.Errorf("expected phase and build log lines:\n%s", log)
	}
	if len(notifier.successes) != 1 || len(notifier.failures) != 0 {
		t.Errorf("unexpected notifications %+v", notifier)
	}

	st, err := state.NewManager(cfg.StagingDirectory(), logger.Discard()).ReadState()
	if err != nil {
		t.Fatal(err)
	}
	if st.BuildStatus != types.BuildStatusSucceeded || st.ImageID != testImageID || !st.Pushed {
		t.Errorf("unexpected recorded state %+v", st)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(cfg.StagingDirectory()), state.DirName, "lock.json")); !os.IsNotExist(err) {
		t.Error("expected staging lock to be released")
	}
}

func TestRun_DefaultsToLatest(t *testing.T) {
	cfg := newJob(t)
	cfg.ImageTags = nil

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	eng := mocks.NewMockEngine(ctrl)

	factory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(eng, nil)
	eng.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return(builtStream(), nil)
	eng.EXPECT().Tag(gomock.Any(), testImageID, "example/app", "latest").Return(nil)
	eng.EXPECT().Close().Return(nil)

	result, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Identity.Tags) != 1 || result.Identity.Tags[0] != "latest" {
		t.Errorf("expected [latest], got %v", result.Identity.Tags)
	}
	if result.Pushed || result.Removed {
		t.Errorf("push and remove were not requested: %+v", result)
	}
}

func TestRun_RemovalFailureStillSucceeds(t *testing.T) {
	cfg := newJob(t)
	cfg.ImageTags = []string{"v1"}
	cfg.Remove = true

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	eng := mocks.NewMockEngine(ctrl)

	factory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(eng, nil)
	eng.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return(builtStream(), nil)
	eng.EXPECT().Tag(gomock.Any(), testImageID, "example/app", "v1").Return(nil)
	eng.EXPECT().Remove(gomock.Any(), testImageID, true).Return(errors.New("conflict: image is in use"))
	eng.EXPECT().Close().Return(nil)

	result, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())
	if err != nil {
		t.Fatalf("removal failure must not fail the workflow: %v", err)
	}

	var removalErr *builders.RemovalError
	if !errors.As(result.RemovalErr, &removalErr) {
		t.Fatalf("expected RemovalError in result, got %v", result.RemovalErr)
	}
	if result.Removed {
		t.Error("image was not removed")
	}
	if result.Identity == nil || result.Identity.ID != testImageID {
		t.Errorf("expected identity in result, got %+v", result.Identity)
	}
}

func TestRun_PushFailureStopsWorkflow(t *testing.T) {
	cfg := newJob(t)
	cfg.Push = true
	cfg.Remove = true

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	eng := mocks.NewMockEngine(ctrl)
	notifier := &recordingNotifier{}

	factory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(eng, nil)
	eng.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return(builtStream(), nil)
	eng.EXPECT().Tag(gomock.Any(), testImageID, "example/app", gomock.Any()).Return(nil).Times(2)
	eng.EXPECT().Push(gomock.Any(), "example/app", "v1", gomock.Nil()).
		Return(mocks.NewFakeStream(engine.Event{Error: "unauthorized"}), nil)
	// No push of v2 and no removal
	eng.EXPECT().Close().Return(nil)

	result, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous(), builders.WithNotifier(notifier))

	var pushErr *builders.PushError
	if !errors.As(err, &pushErr) || pushErr.Tag != "v1" {
		t.Fatalf("expected PushError for v1, got %v", err)
	}
	if result == nil || result.Pushed {
		t.Errorf("unexpected result %+v", result)
	}
	if len(notifier.failures) != 1 {
		t.Errorf("expected failure notification, got %+v", notifier)
	}

	st, _ := state.NewManager(cfg.StagingDirectory(), logger.Discard()).ReadState()
	if st.BuildStatus != types.BuildStatusFailed || st.FailureCount != 1 {
		t.Errorf("unexpected recorded state %+v", st)
	}
}

func TestRun_BuildFailureClosesEngine(t *testing.T) {
	cfg := newJob(t)

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	eng := mocks.NewMockEngine(ctrl)

	factory.EXPECT().Open(gomock.Any(), gomock.Any()).Return(eng, nil)
	eng.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(mocks.NewFakeStream(engine.Event{Error: "COPY failed: file not found"}), nil)
	eng.EXPECT().Close().Return(nil).Times(1)

	_, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())

	var buildErr *builders.BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
}

func TestRun_StagingFailureNeverOpensEngine(t *testing.T) {
	cfg := newJob(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	cfg.Resources = append(cfg.Resources, types.ResourceRule{Directory: missing})

	ctrl := gomock.NewController(t)
	// Any Open call fails the test
	factory := mocks.NewMockFactory(ctrl)

	_, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())

	var stagingErr *staging.StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("expected StagingError, got %v", err)
	}
	if stagingErr.Path != missing {
		t.Errorf("expected error for %s, got %s", missing, stagingErr.Path)
	}
}

func TestRun_OpenFailure(t *testing.T) {
	cfg := newJob(t)
	refused := errors.New("dial unix /var/run/docker.sock: connect: no such file or directory")

	factory := engine.FactoryFunc(func(context.Context, types.EngineConfig) (engine.Engine, error) {
		return nil, refused
	})

	_, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())
	if !errors.Is(err, refused) {
		t.Fatalf("expected engine open error, got %v", err)
	}
}

func TestRun_Skip(t *testing.T) {
	cfg := &types.JobConfig{Skip: true}
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	log := mocks.NewMockLogger()

	result, err := builders.Run(context.Background(), cfg, factory, log)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Skipped {
		t.Error("expected skipped result")
	}
	if !log.Contains("Skipping docker build") {
		t.Errorf("expected skip message:\n%s", log)
	}
}

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.JobConfig
		want error
	}{
		{"missing directory", types.JobConfig{ImageName: "example/app"}, builders.ErrMissingDirectory},
		{"missing image name", types.JobConfig{Directory: "src"}, builders.ErrMissingImageName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			factory := mocks.NewMockFactory(ctrl)

			_, err := builders.Run(context.Background(), &tt.cfg, factory, logger.Discard())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRun_Locked(t *testing.T) {
	cfg := newJob(t)

	holder := state.NewManager(cfg.StagingDirectory(), logger.Discard())
	if err := holder.AcquireLock("other-build"); err != nil {
		t.Fatal(err)
	}
	defer holder.ReleaseLock()

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)

	_, err := builders.Run(context.Background(), cfg, factory, logger.Discard(), anonymous())
	if !errors.Is(err, state.ErrStagingLocked) {
		t.Fatalf("expected ErrStagingLocked, got %v", err)
	}
}

func TestStage(t *testing.T) {
	cfg := newJob(t)

	summary, err := builders.Stage(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if summary.Files != 2 {
		t.Errorf("expected 2 staged files, got %d (%v)", summary.Files, summary.Copied)
	}

	if _, err := builders.Stage(context.Background(), &types.JobConfig{}, logger.Discard()); !errors.Is(err, builders.ErrMissingDirectory) {
		t.Errorf("expected validation error, got %v", err)
	}
}
