package analyze

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"

	"wallpipe/internal/domain"
)

// compressPreview writes the resized, re-encoded preview for img, skipping
// the work when the deterministic destination already exists.
func compressPreview(img domain.DownloadedImage, outputDir string, maxWidth, quality int) (string, error) {
	dir := filepath.Join(outputDir, img.Source)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	destination := filepath.Join(dir, domain.SanitizeFileName(img.ID+"-compressed")+".jpg")
	if _, err := os.Stat(destination); err == nil {
		return destination, nil
	}

	src, err := imaging.Open(img.LocalPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", img.LocalPath, err)
	}
	if src.Bounds().Dx() > maxWidth {
		src = imaging.Resize(src, maxWidth, 0, imaging.Lanczos)
	}
	if err := imaging.Save(src, destination, imaging.JPEGQuality(quality)); err != nil {
		return "", fmt.Errorf("save %s: %w", destination, err)
	}
	return destination, nil
}

// dominantColors returns the dominant and average colors of the image as
// hex strings, deduplicated.
func dominantColors(path string) ([]string, error) {
	src, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}

	// quantized histogram over a downsampled copy picks the dominant hue
	small := imaging.Resize(src, 64, 0, imaging.Box)
	counts := make(map[uint32]int)
	bounds := small.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			bucket := (r>>12)<<8 | (g>>12)<<4 | (b >> 12)
			counts[bucket]++
		}
	}
	var best uint32
	bestCount := -1
	for bucket, n := range counts {
		if n > bestCount {
			best, bestCount = bucket, n
		}
	}
	dominant := hexColor(
		uint8((best>>8&0xf)<<4),
		uint8((best>>4&0xf)<<4),
		uint8((best&0xf)<<4),
	)

	onePixel := imaging.Resize(src, 1, 1, imaging.Box)
	r, g, b, _ := onePixel.At(0, 0).RGBA()
	average := hexColor(uint8(r>>8), uint8(g>>8), uint8(b>>8))

	if dominant == average {
		return []string{dominant}, nil
	}
	return []string{dominant, average}, nil
}

// perceptualHash fingerprints the image for near-duplicate detection.
func perceptualHash(path string) (string, error) {
	src, err := imaging.Open(path)
	if err != nil {
		return "", err
	}
	hash, err := goimagehash.PerceptionHash(image.Image(src))
	if err != nil {
		return "", err
	}
	return hash.ToString(), nil
}

func hexColor(r, g, b uint8) string {
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
