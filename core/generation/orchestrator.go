// Package generation runs video-to-song jobs in the background of the API server.
package generation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"VibeTune/core/music"
	"VibeTune/core/vision"
	"VibeTune/logger"
	"VibeTune/model"
	"VibeTune/repository"
	"VibeTune/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrJobInFlight       = errors.New("a generation job is already running for this song")
	ErrShuttingDown      = errors.New("orchestrator is shutting down")
)

// PromptResolver turns the captured media into a music prompt. It never fails.
type PromptResolver interface {
	Prompt(ctx context.Context, video *vision.Video, annotation string) vision.Result
}

// Submission is one captured clip plus its annotation.
type Submission struct {
	UserID       string
	Title        string
	Annotation   string
	NegativeTags string
	Video        []byte
	VideoName    string
	VideoType    string
}

// Orchestrator creates Songs and drives their generation jobs to a terminal status.
type Orchestrator struct {
	songs   repository.SongRepository
	store   storage.Store
	prompts PromptResolver
	music   music.Generator

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup

	now func() time.Time
}

// New creates an orchestrator. Jobs run on a context owned by the
// orchestrator, never on the submitting request's context.
func New(songs repository.SongRepository, store storage.Store, prompts PromptResolver, gen music.Generator) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		songs:    songs,
		store:    store,
		prompts:  prompts,
		music:    gen,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Submit validates the submission, stores the source video, creates the Song
// in processing and starts its job. The Song is returned without waiting.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*model.Song, error) {
	sub.Annotation = strings.TrimSpace(sub.Annotation)
	if strings.TrimSpace(sub.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidSubmission)
	}
	if len(sub.Video) == 0 && sub.Annotation == "" {
		return nil, fmt.Errorf("%w: a video or a description is required", ErrInvalidSubmission)
	}
	if o.isClosed() {
		return nil, ErrShuttingDown
	}

	song := &model.Song{
		ID:         uuid.NewString(),
		Title:      o.title(sub),
		UserID:     sub.UserID,
		Parameters: &model.SongParameters{Prompt: sub.Annotation, NegativeTags: sub.NegativeTags},
	}
	if sub.Annotation != "" {
		desc := sub.Annotation
		song.Description = &desc
	}

	if len(sub.Video) > 0 {
		key, url, err := storage.PutSourceVideo(ctx, o.store, song.ID, sub.VideoName, sub.VideoType,
			bytes.NewReader(sub.Video), int64(len(sub.Video)))
		if err != nil {
			return nil, fmt.Errorf("store source video: %w", err)
		}
		song.Parameters.SourceMediaKey = key
		song.Parameters.SourceMediaURL = url
	}

	if err := o.songs.Create(ctx, song); err != nil {
		if key := song.Parameters.SourceMediaKey; key != "" {
			o.removeObject(key)
		}
		return nil, err
	}
	if err := o.start(song.ID, sub); err != nil {
		o.finish(song.ID, model.SongStatusUpdate{Status: model.SongStatusFailed})
		return nil, err
	}
	return song, nil
}

func (o *Orchestrator) title(sub Submission) string {
	if t := strings.TrimSpace(sub.Title); t != "" {
		return t
	}
	if sub.Annotation != "" {
		return sub.Annotation
	}
	return "Song " + o.now().Format("2006-01-02")
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// start launches the background job for songID; at most one per id.
func (o *Orchestrator) start(songID string, sub Submission) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrShuttingDown
	}
	if _, busy := o.inFlight[songID]; busy {
		return ErrJobInFlight
	}
	o.inFlight[songID] = struct{}{}
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer o.release(songID)
		o.run(songID, sub)
	}()
	return nil
}

func (o *Orchestrator) release(songID string) {
	o.mu.Lock()
	delete(o.inFlight, songID)
	o.mu.Unlock()
}

// InFlight reports whether a job is running for songID.
func (o *Orchestrator) InFlight(songID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[songID]
	return ok
}

func (o *Orchestrator) run(songID string, sub Submission) {
	start := time.Now()
	logger.Info("[Generation] job started", logger.String("songId", songID))

	fileURL, duration, err := o.generate(o.ctx, songID, sub)
	if errors.Is(err, repository.ErrSongNotFound) {
		logger.Warn("[Generation] song deleted before the job finished", logger.String("songId", songID))
		return
	}
	if err != nil {
		logger.Error("[Generation] job failed",
			logger.String("songId", songID),
			logger.Duration("took", time.Since(start)),
			logger.ErrorField(err))
		o.finish(songID, model.SongStatusUpdate{Status: model.SongStatusFailed})
		return
	}

	o.finish(songID, model.SongStatusUpdate{
		Status:   model.SongStatusCompleted,
		FileURL:  fileURL,
		Duration: duration,
	})
	logger.Info("[Generation] job completed",
		logger.String("songId", songID),
		logger.Duration("took", time.Since(start)))
}

func (o *Orchestrator) generate(ctx context.Context, songID string, sub Submission) (string, float64, error) {
	var video *vision.Video
	if len(sub.Video) > 0 {
		video = &vision.Video{Data: sub.Video, MIMEType: sub.VideoType}
	}
	resolved := o.prompts.Prompt(ctx, video, sub.Annotation)
	logger.Info("[Generation] prompt resolved",
		logger.String("songId", songID),
		logger.String("source", string(resolved.Source)))

	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	audio, err := o.music.Generate(ctx, music.Request{Prompt: resolved.Prompt, NegativePrompt: sub.NegativeTags})
	if err != nil {
		return "", 0, fmt.Errorf("generate audio: %w", err)
	}

	key, url, err := storage.PutSongAudio(ctx, o.store, songID, audio.Data)
	if err != nil {
		return "", 0, fmt.Errorf("store audio: %w", err)
	}

	if err := o.savePrompt(ctx, songID, resolved.Prompt); err != nil {
		if errors.Is(err, repository.ErrSongNotFound) {
			// deleted while the job ran
			o.removeObject(key)
		}
		return "", 0, err
	}
	return url, audio.Duration, nil
}

func (o *Orchestrator) savePrompt(ctx context.Context, songID, prompt string) error {
	song, err := o.songs.GetByID(ctx, songID)
	if err != nil {
		return err
	}
	params := model.SongParameters{}
	if song.Parameters != nil {
		params = *song.Parameters
	}
	params.Prompt = prompt
	if err := o.songs.UpdateParameters(ctx, songID, params); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

// removeObject deletes an object left behind by an abandoned song.
func (o *Orchestrator) removeObject(key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 10*time.Second)
	defer cancel()
	if err := o.store.Delete(ctx, key); err != nil {
		logger.Warn("[Generation] failed to remove orphaned object",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}

// finish writes the terminal status on a context detached from shutdown so a
// cancelled job still leaves its Song failed rather than processing.
func (o *Orchestrator) finish(songID string, upd model.SongStatusUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(o.ctx), 10*time.Second)
	defer cancel()
	if _, err := o.songs.UpdateStatus(ctx, songID, upd); err != nil {
		logger.Error("[Generation] failed to record terminal status",
			logger.String("songId", songID),
			logger.String("status", upd.Status),
			logger.ErrorField(err))
	}
}

// Wait blocks until every started job has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting submissions and waits for running jobs. When ctx
// expires first, running jobs are cancelled and marked failed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}
