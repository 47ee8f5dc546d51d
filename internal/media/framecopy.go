package media

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// concatFrameCopy concatenates videos by decoding every frame and appending
// it to a single writer sized after the first input. Frames from inputs
// with different dimensions are resized to match. Used only when the
// ffmpeg binary is unavailable.
func concatFrameCopy(paths []string, out string) error {
	if len(paths) == 0 {
		return ErrNoInputs
	}

	first, err := gocv.VideoCaptureFile(paths[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", paths[0], err)
	}
	width := int(first.Get(gocv.VideoCaptureFrameWidth))
	height := int(first.Get(gocv.VideoCaptureFrameHeight))
	fps := first.Get(gocv.VideoCaptureFPS)
	first.Close()

	if width <= 0 || height <= 0 {
		return fmt.Errorf("cannot read dimensions of %s", paths[0])
	}
	if fps <= 0 {
		fps = 24
	}

	writer, err := gocv.VideoWriterFile(out, "mp4v", fps, width, height, true)
	if err != nil {
		return fmt.Errorf("open writer %s: %w", out, err)
	}
	defer writer.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	resized := gocv.NewMat()
	defer resized.Close()

	for _, path := range paths {
		capture, err := gocv.VideoCaptureFile(path)
		if err != nil {
			continue
		}
		for capture.Read(&frame) {
			if frame.Empty() {
				continue
			}
			if frame.Cols() != width || frame.Rows() != height {
				gocv.Resize(frame, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationArea)
				writer.Write(resized)
				continue
			}
			writer.Write(frame)
		}
		capture.Close()
	}
	return nil
}
