package extract

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".tiff": true,
}

// ImageExtractor hands image files to the vision model untouched
type ImageExtractor struct{}

func (ImageExtractor) CanHandle(path string) bool {
	return imageExtensions[ext(path)]
}

func (ImageExtractor) Extract(path string) (*Content, error) {
	return &Content{
		IsImage:        true,
		ImagePath:      path,
		SuggestedTitle: titleFromStem(path),
	}, nil
}

// IsImage reports whether path has an image extension
func IsImage(path string) bool {
	return imageExtensions[ext(path)]
}
