package utils

import (
	"errors"
	"fmt"

	"github.com/MrSnakeDoc/bootgate/internal/logger"
)

// Closer pairs a resource with the name used in logs.
type Closer struct {
	Name  string
	Close func() error
}

// CloseAll closes resources in reverse order of registration. Every closer
// runs even when an earlier one fails.
func CloseAll(log logger.Logger, cs ...Closer) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		c := cs[i]
		if c.Close == nil {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn("failed to close", logger.String("resource", c.Name), logger.Error(err))
			errs = append(errs, fmt.Errorf("closing %s: %w", c.Name, err))
			continue
		}
		log.Debug("closed", logger.String("resource", c.Name))
	}
	return errors.Join(errs...)
}
