package cli

import (
	"context"
	"io"

	"github.com/thruflo/knitron/internal/chunk"
	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/logging"
)

// runChunk reads chunk options from in, runs the chunk on the kernel and
// writes the result document to outPath.
func runChunk(ctx context.Context, cfg *config.Config, spec string, in io.Reader, outPath string, errOut io.Writer) error {
	opts, err := chunk.ParseOptions(in)
	if err != nil {
		return err
	}
	log := logging.WithFields(map[string]interface{}{"kernel": spec, "chunk": opts.Label})

	cache := chunk.Cache(chunk.NopCache{})
	if opts.Cache {
		cache, err = chunk.NewCache(cfg.Cache)
		if err != nil {
			return err
		}
	}
	defer cache.Close()

	session, err := connectKernel(ctx, cfg, spec)
	if err != nil {
		return err
	}
	defer session.Close()

	runner := chunk.NewRunner(session, cfg,
		chunk.WithCache(cache),
		chunk.WithLogger(log),
		chunk.WithErrorOutput(errOut),
	)
	res, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}

	log.Debug("writing result", "path", outPath)
	return res.WriteFile(outPath)
}
