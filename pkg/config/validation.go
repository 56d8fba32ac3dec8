package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/flashcache/internal/bytesize"
	"github.com/marmos91/flashcache/pkg/page"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("slotsize", func(fl validator.FieldLevel) bool {
			switch bytesize.ByteSize(fl.Field().Uint()) {
			case 1 * bytesize.KiB, 2 * bytesize.KiB, 4 * bytesize.KiB, 8 * bytesize.KiB, 16 * bytesize.KiB:
				return true
			}
			return false
		})
		_ = validate.RegisterValidation("pagesize", func(fl validator.FieldLevel) bool {
			n := bytesize.ByteSize(fl.Field().Uint())
			return n.IsPowerOfTwo() && n >= page.MinSize && n <= page.MaxSize
		})
	})
	return validate
}

// Validate checks struct tags and the constraints spanning several fields.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("invalid configuration: validation %s", strings.Join(msgs, "; "))
		}
		return err
	}

	c := &cfg.Cache
	if c.Size < 2*c.PageSize {
		return fmt.Errorf("invalid configuration: cache.size %s holds fewer than two pages of %s", c.Size, c.PageSize)
	}
	if c.Size%c.BlockSize != 0 {
		return fmt.Errorf("invalid configuration: cache.size %s is not a multiple of cache.block_size %s", c.Size, c.BlockSize)
	}
	if c.EnableDump && c.DumpPath == "" {
		return errors.New("invalid configuration: cache.enable_dump requires cache.dump_path")
	}
	if c.WriteCachePct > c.DoFullIOPct {
		return fmt.Errorf("invalid configuration: cache.write_cache_pct %d above cache.do_full_io_pct %d", c.WriteCachePct, c.DoFullIOPct)
	}
	if c.LogPath == c.DevicePath || c.DumpPath == c.DevicePath {
		return errors.New("invalid configuration: log and dump files must not be the device")
	}
	return nil
}
