package maskgt

// Ground-truth assembly for the detection, instance and panoptic views.

import (
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"sync"
)

// GroundTruthRecord is the normalized per-object ground truth: a dense class
// index and a binary mask sized to the annotated image. InstanceID carries the
// annotation id (instance view) or segment id (panoptic view) and is unused by
// the detection view.
type GroundTruthRecord struct {
	ClassID    int
	InstanceID int64
	Mask       Mask
}

// AnnotationSource is the query surface of a detection/instance annotation
// container. *COCO implements it.
type AnnotationSource interface {
	Image(imageID int) (ImageRef, error)
	AnnotationsForImage(imageID int) []Annotation
}

// maskSource selects the strategy that produces a record's mask.
type maskSource struct {
	kind    maskSourceKind
	bbox    [4]float64
	decoded Mask
	idMap   *SegmentIDMap
	segID   int64
}

type maskSourceKind int

const (
	bboxSource maskSourceKind = iota
	decodedSource
	segmentSource
)

// buildRecord constructs one record, dispatching on the mask source. A decoded
// mask whose dimensions disagree with the image is rejected with ok=false; the
// caller decides how to handle the inconsistency.
func buildRecord(classID int, instanceID int64, src maskSource, height, width int) (rec GroundTruthRecord, ok bool) {
	var mask Mask
	switch src.kind {
	case bboxSource:
		mask = MaskFromBbox(src.bbox, height, width)
	case decodedSource:
		if src.decoded.Height != height || src.decoded.Width != width {
			return GroundTruthRecord{}, false
		}
		mask = src.decoded
	case segmentSource:
		mask = MaskFromSegmentID(src.idMap, src.segID)
	}
	return GroundTruthRecord{ClassID: classID, InstanceID: instanceID, Mask: mask}, true
}

// DetectionGroundTruth builds rectangular ground-truth masks from bounding
// boxes.
type DetectionGroundTruth struct {
	Source     AnnotationSource
	ClassIndex map[int]int
}

// GetGroundTruth returns one record per annotation of the image, in the order
// the container returns them. Detection records carry no instance id.
func (g DetectionGroundTruth) GetGroundTruth(imageID int) ([]GroundTruthRecord, error) {
	img, err := g.Source.Image(imageID)
	if err != nil {
		return nil, err
	}

	anns := g.Source.AnnotationsForImage(imageID)
	records := make([]GroundTruthRecord, 0, len(anns))
	for _, ann := range anns {
		classID, ok := g.ClassIndex[ann.CategoryID]
		if !ok {
			return nil, fmt.Errorf("annotation %d references unknown category %d", ann.ID, ann.CategoryID)
		}
		rec, _ := buildRecord(classID, 0, maskSource{kind: bboxSource, bbox: ann.Bbox}, img.Height, img.Width)
		records = append(records, rec)
	}

	return records, nil
}

// InstanceGroundTruth builds ground-truth masks from decoded polygon/RLE
// segmentations.
type InstanceGroundTruth struct {
	Source     AnnotationSource
	Decoder    MaskDecoder
	ClassIndex map[int]int
}

// GetGroundTruth returns one record per annotation of the image; the instance
// id is the annotation's own id. Annotations whose decoded mask does not match
// the image dimensions are dropped from the result; the number of dropped
// annotations is returned so the condition stays observable.
func (g InstanceGroundTruth) GetGroundTruth(imageID int) ([]GroundTruthRecord, int, error) {
	img, err := g.Source.Image(imageID)
	if err != nil {
		return nil, 0, err
	}

	anns := g.Source.AnnotationsForImage(imageID)
	records := make([]GroundTruthRecord, 0, len(anns))
	dropped := 0
	for _, ann := range anns {
		classID, ok := g.ClassIndex[ann.CategoryID]
		if !ok {
			return nil, dropped, fmt.Errorf("annotation %d references unknown category %d", ann.ID, ann.CategoryID)
		}

		decoded, err := g.Decoder.ToMask(ann, img.Height, img.Width)
		if err != nil {
			return nil, dropped, fmt.Errorf("failed to decode the segmentation of annotation %d: %v", ann.ID, err)
		}

		rec, ok := buildRecord(classID, int64(ann.ID), maskSource{kind: decodedSource, decoded: decoded}, img.Height, img.Width)
		if !ok {
			dropped++
			log.Printf("Dropping annotation %d: mask %dx%d does not match image %dx%d",
				ann.ID, decoded.Height, decoded.Width, img.Height, img.Width)
			continue
		}
		records = append(records, rec)
	}

	return records, dropped, nil
}

// PanopticGroundTruth builds per-segment ground-truth masks from RGB-encoded
// panoptic segmentation images stored in MaskDir.
type PanopticGroundTruth struct {
	Index      *AnnotationIndex
	ClassIndex map[int]int
	MaskDir    string
}

// GetGroundTruth returns one record per segment of the image's panoptic
// segmentation; the instance id is the segment id. It also returns the decoded
// segmentation image's (height, width).
func (g PanopticGroundTruth) GetGroundTruth(imageID int) ([]GroundTruthRecord, [2]int, error) {
	if _, err := g.Index.Image(imageID); err != nil {
		return nil, [2]int{}, err
	}
	ann, err := g.Index.Annotation(imageID)
	if err != nil {
		return nil, [2]int{}, err
	}

	idMap, err := LoadSegmentImage(filepath.Join(g.MaskDir, ann.FileName))
	if err != nil {
		return nil, [2]int{}, err
	}

	records := make([]GroundTruthRecord, 0, len(ann.Segments))
	for _, seg := range ann.Segments {
		classID, ok := g.ClassIndex[seg.CategoryID]
		if !ok {
			return nil, [2]int{}, fmt.Errorf("segment %d references unknown category %d", seg.ID, seg.CategoryID)
		}
		rec, _ := buildRecord(classID, seg.ID,
			maskSource{kind: segmentSource, idMap: idMap, segID: seg.ID}, idMap.Height, idMap.Width)
		records = append(records, rec)
	}

	return records, [2]int{idMap.Height, idMap.Width}, nil
}

// ForEachImage runs fn for every image id on a bounded worker pool. Per-image
// ground-truth extraction has no data dependency on other images, so the ids
// are processed concurrently; fn must treat shared state (class index,
// annotation container) as read-only. The first error encountered is returned
// after all workers drain.
func ForEachImage(imageIDs []int, numWorkers int, fn func(imageID int) error) error {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if len(imageIDs) < numWorkers {
		numWorkers = len(imageIDs)
	}

	workQueue := make(chan int, 2*numWorkers)
	errs := make(chan error, 1)
	trySendError := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for id := range workQueue {
				if err := fn(id); err != nil {
					trySendError(err)
				}
			}
		}()
	}

	for _, id := range imageIDs {
		workQueue <- id
	}
	close(workQueue)
	wg.Wait()

	close(errs)
	if len(errs) > 0 {
		return <-errs
	}

	return nil
}
