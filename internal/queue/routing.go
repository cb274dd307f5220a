package queue

import "strings"

const (
	DocQueue     = "doc_queue"
	ImgQueue     = "img_queue"
	AVQueue      = "av_queue"
	JanitorQueue = "janitor_queue"
)

// Queues the core itself pushes to; the janitor queue belongs to the
// external cleanup worker and only shows up in admin reads/resets.
var Queues = []string{DocQueue, ImgQueue, AVQueue}

var (
	docMarkers = []string{"pdf", "docx", "txt", "pptx"}
	imgMarkers = []string{"jpg", "png", "heic", "webp", "svg", "background", "upscaler"}
	avMarkers  = []string{"mp4", "mp3", "mov", "wav", "srt", "vtt"}
)

// AssignQueue deterministically routes an operation name to its queue
// family. The substring-marker order (documents, then images, then
// audio/video) and the document fallback are part of the worker fleet
// contract and must not change.
func AssignQueue(converter string) string {
	for _, m := range docMarkers {
		if strings.Contains(converter, m) {
			return DocQueue
		}
	}
	for _, m := range imgMarkers {
		if strings.Contains(converter, m) {
			return ImgQueue
		}
	}
	for _, m := range avMarkers {
		if strings.Contains(converter, m) {
			return AVQueue
		}
	}
	return DocQueue
}
