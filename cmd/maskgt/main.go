// Builds normalized mask ground truth from COCO detection, instance
// segmentation and panoptic segmentation annotations.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/sensorable/maskgt"
)

var (
	task            string // The ground-truth view to build.
	annotationsPath string // The annotation container JSON.
	masksDirPath    string // The panoptic segmentation image directory.
	limit           int    // The max. number of images to process (0 for all).
	numWorkers      int    // The number of concurrent extraction workers.
	tfRecordPath    string // The TFRecord output file (optional).
	classMapPath    string // The class map output file (optional).
	numShardFiles   int    // The number of TFRecord shard files to create.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  detection options:\t-annotations <file>")
		_, _ = fmt.Fprintln(os.Stderr, "  instance options:\t-annotations <file>")
		_, _ = fmt.Fprintln(os.Stderr, "  panoptic options:\t-annotations <file> -masks <dir>")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	flag.StringVar(&task, "task", "",
		"The ground-truth `view` to build {detection, instance, panoptic}")
	flag.StringVar(&annotationsPath, "annotations", annotationsPath,
		"The `path` to the annotation container JSON")
	flag.StringVar(&masksDirPath, "masks", masksDirPath,
		"The `path` to the directory with panoptic segmentation images (panoptic only)")
	flag.IntVar(&limit, "limit", 0,
		"The max. `number` of images to process (0 processes all)")
	flag.IntVar(&numWorkers, "workers", 0,
		"The `number` of concurrent extraction workers (0 uses the CPU count)")
	flag.StringVar(&tfRecordPath, "tfrecord-out", tfRecordPath,
		"The `path` for TFRecord output (empty disables the export)")
	flag.StringVar(&classMapPath, "class-map-out", classMapPath,
		"The `path` for the JSON class map output (empty disables it)")
	flag.IntVar(&numShardFiles, "num-shards", 1,
		"The number of TFRecord shard files to create")

	flag.Parse()

	if task != "detection" && task != "instance" && task != "panoptic" {
		printUsageAndExit("Unsupported task")
	}
	if annotationsPath == "" {
		printUsageAndExit("Missing annotation input path argument")
	}
	if task == "panoptic" && masksDirPath == "" {
		printUsageAndExit("Missing segmentation image directory argument")
	}

	annotationsPath = filepath.Clean(annotationsPath)
	if masksDirPath != "" {
		masksDirPath = filepath.Clean(masksDirPath)
	}
}

func main() {
	switch task {
	case "detection", "instance":
		runDetectionOrInstance()
	case "panoptic":
		runPanoptic()
	}
}

// runDetectionOrInstance extracts ground truth from a detection/instance
// annotation container.
func runDetectionOrInstance() {
	log.Printf("Loading annotations from %q", annotationsPath)
	coco, err := maskgt.FromCOCO(annotationsPath)
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}

	classIndex := maskgt.BuildClassIndex(coco.Categories)
	log.Printf("Number of classes (mapped): %d", len(classIndex))

	imageIDs := coco.ImageIDs()
	log.Printf("Total images: %d", len(imageIDs))
	if limit > 0 && limit < len(imageIDs) {
		imageIDs = imageIDs[:limit]
	}

	detection := maskgt.DetectionGroundTruth{Source: coco, ClassIndex: classIndex}
	instance := maskgt.InstanceGroundTruth{
		Source:     coco,
		Decoder:    maskgt.SegmentationDecoder{},
		ClassIndex: classIndex,
	}

	var mu sync.Mutex
	var examples []maskgt.GroundTruthExample
	totalRecords, totalDropped := 0, 0

	err = maskgt.ForEachImage(imageIDs, numWorkers, func(imageID int) error {
		var records []maskgt.GroundTruthRecord
		var dropped int
		var err error
		if task == "detection" {
			records, err = detection.GetGroundTruth(imageID)
		} else {
			records, dropped, err = instance.GetGroundTruth(imageID)
		}
		if err != nil {
			return err
		}

		img, err := coco.Image(imageID)
		if err != nil {
			return err
		}

		mu.Lock()
		examples = append(examples, maskgt.GroundTruthExample{Image: img, Records: records})
		totalRecords += len(records)
		totalDropped += dropped
		mu.Unlock()
		return nil
	})
	if err != nil {
		log.Fatal("Ground-truth extraction failed: ", err)
	}

	log.Printf("Extracted %d records for %d images", totalRecords, len(examples))
	if totalDropped > 0 {
		log.Printf("Dropped %d annotations with mismatched mask dimensions", totalDropped)
	}

	writeOutputs(examples, coco.Categories, classIndex)
}

// runPanoptic extracts ground truth from a panoptic annotation container and
// its segmentation image directory.
func runPanoptic() {
	log.Printf("Loading panoptic annotations from %q", annotationsPath)
	data, err := maskgt.FromPanopticJSON(annotationsPath)
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}

	classIndex := maskgt.BuildClassIndex(data.Categories)
	log.Printf("Number of panoptic classes (mapped): %d", len(classIndex))

	index := data.Index()
	imageIDs := index.ImageIDs()
	log.Printf("Total images: %d", len(imageIDs))
	if limit > 0 && limit < len(imageIDs) {
		imageIDs = imageIDs[:limit]
	}

	panoptic := maskgt.PanopticGroundTruth{
		Index:      index,
		ClassIndex: classIndex,
		MaskDir:    masksDirPath,
	}

	var mu sync.Mutex
	var examples []maskgt.GroundTruthExample
	totalRecords := 0

	err = maskgt.ForEachImage(imageIDs, numWorkers, func(imageID int) error {
		records, _, err := panoptic.GetGroundTruth(imageID)
		if err != nil {
			return err
		}

		img, err := index.Image(imageID)
		if err != nil {
			return err
		}

		mu.Lock()
		examples = append(examples, maskgt.GroundTruthExample{Image: img, Records: records})
		totalRecords += len(records)
		mu.Unlock()
		return nil
	})
	if err != nil {
		log.Fatal("Ground-truth extraction failed: ", err)
	}

	log.Printf("Extracted %d segment records for %d images", totalRecords, len(examples))

	writeOutputs(examples, data.Categories, classIndex)
}

// writeOutputs writes the optional TFRecord and class map files.
func writeOutputs(examples []maskgt.GroundTruthExample, categories []maskgt.Category,
		classIndex map[int]int) {

	if tfRecordPath != "" {
		if err := maskgt.WriteGroundTruthTFRecord(tfRecordPath, examples, numShardFiles); err != nil {
			log.Fatal("TFRecord export failed: ", err)
		}
		log.Printf("Successfully wrote ground-truth records to %s", tfRecordPath)
	}

	if classMapPath != "" {
		if err := maskgt.WriteClassMap(classMapPath, categories, classIndex); err != nil {
			log.Fatal("Class map export failed: ", err)
		}
		log.Printf("Successfully wrote the class map to %s", classMapPath)
	}
}
