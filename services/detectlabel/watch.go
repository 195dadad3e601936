package detectlabel

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/framedetect/ml/inference"
)

// watchDebounce coalesces the bursts of events editors and copy tools emit for one write.
var watchDebounce = 500 * time.Millisecond

// WatchModel reloads the current model whenever its file is rewritten, until ctx is done or the
// pipeline is closed. A model must already be loaded.
func (p *Pipeline) WatchModel(ctx context.Context) error {
	uri := p.ModelURI()
	if uri == "" {
		return errors.New("no model loaded to watch")
	}
	path, err := inference.ParseModelURI(uri)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create model watcher")
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		goutils.UncheckedError(watcher.Close())
		return errors.Wrapf(err, "could not watch %s", filepath.Dir(path))
	}
	debounced := debounce.New(watchDebounce)
	started := p.workers.Go(func(workerCtx context.Context) {
		defer goutils.UncheckedErrorFunc(watcher.Close)
		for {
			select {
			case <-ctx.Done():
				return
			case <-workerCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !p.isModelFile(event.Name) {
					continue
				}
				debounced(func() {
					if workerCtx.Err() != nil || ctx.Err() != nil {
						return
					}
					p.logger.Infow("model file changed, reloading", "path", event.Name)
					if err := p.Reload(workerCtx); err != nil {
						p.logger.Warnw("could not reload model", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warnw("model watcher error", "error", err)
			}
		}
	})
	if !started {
		goutils.UncheckedError(watcher.Close())
		return ErrClosed
	}
	p.logger.Debugw("watching model", "path", path)
	return nil
}

func (p *Pipeline) isModelFile(name string) bool {
	path, err := inference.ParseModelURI(p.ModelURI())
	if err != nil {
		return false
	}
	return filepath.Clean(name) == filepath.Clean(path)
}
