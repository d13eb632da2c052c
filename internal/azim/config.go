package azim

import "fmt"

// Config describes one integration geometry. It is captured by
// SetConfiguration and consumed read-only by every later stage; changing any
// field requires a new Configure call because the compiled program bakes
// these values in as constants.
type Config struct {
	// Nx is the stride of the image array (the size of the x dimension).
	Nx int
	// Nimage is the total image size in pixels.
	Nimage int
	// Nbins is the number of histogram bins.
	Nbins int
	// UseFP64 selects 64-bit fixed-point accumulation. 32-bit is faster but
	// unsafe for large images; validate results before relying on it.
	UseFP64 bool
}

// Validate checks the descriptor against the device work-group granularity.
func (c Config) Validate() error {
	if c.Nx < 1 || c.Nimage < 1 || c.Nbins < 1 {
		return fmt.Errorf("dimensions must be positive, got Nx=%d Nimage=%d Nbins=%d: %w",
			c.Nx, c.Nimage, c.Nbins, ErrInvalidConfig)
	}
	if c.Nimage < blockSize {
		return fmt.Errorf("Nimage (%d) must be at least the work-group size (%d): %w",
			c.Nimage, blockSize, ErrInvalidConfig)
	}
	return nil
}
