package docker

import "time"

// Config holds the settings of the thumbnail sandbox.
type Config struct {
	// Image must provide sh and poppler's pdftoppm.
	Image string
	// MemoryLimit in bytes.
	MemoryLimit int64
	CPULimit    float64
	// Timeout bounds one render, including streaming the PDF in.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
	// Width of the thumbnail in pixels; height follows the page ratio.
	Width int
	// TmpfsSize caps /tmp inside the container, which holds the PDF.
	TmpfsSize string
}

func DefaultConfig() Config {
	return Config{
		Image:       "minidocks/poppler:latest",
		MemoryLimit: 256 * 1024 * 1024,
		CPULimit:    1,
		Timeout:     20 * time.Second,
		PoolSize:    2,
		Width:       480,
		TmpfsSize:   "64m",
	}
}
