package maskgt

// TFRecord export for ground-truth records.

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"sort"

	"github.com/golang/protobuf/proto"
	"github.com/ryszard/tfutils/go/example"
	"github.com/ryszard/tfutils/go/tfrecord"
	"github.com/ryszard/tfutils/proto/tensorflow/core/example" // package tensorflow
)

// GroundTruthExample pairs one image's ground-truth records with the image
// they annotate.
type GroundTruthExample struct {
	Image   ImageRef
	Records []GroundTruthRecord
}

// ClassMapEntry describes one class of an exported label space.
type ClassMapEntry struct {
	CategoryID int    `json:"category_id"`
	ClassID    int    `json:"class_id"`
	Name       string `json:"name,omitempty"`
}

// WriteGroundTruthTFRecord does a streaming conversion, serialisation and file
// write of the ground-truth data to one or more TFRecord files stored under
// recordFilePath (with suffixes added when numShards > 1). One
// tensorflow.Example is written per ground-truth record.
func WriteGroundTruthTFRecord(recordFilePath string, data []GroundTruthExample, numShards int) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("conversion to TensorFlow Example failed: %v", e)
		}
	}()

	if numShards <= 0 {
		numShards = 1
	}

	// Flatten to one entry per record.
	type flatRecord struct {
		image  ImageRef
		record GroundTruthRecord
	}
	var flat []flatRecord
	for _, d := range data {
		for _, r := range d.Records {
			flat = append(flat, flatRecord{image: d.Image, record: r})
		}
	}

	fmtShardSuffix := func(idx int) string {
		return fmt.Sprintf("-%05d-of-%05d", idx, numShards)
	}

	var shardFile *os.File
	shardSize := int(math.Ceil(float64(len(flat)) / float64(numShards)))
	shardIdx := -1

	// Convert and serialise one record at a time.
	for i, fr := range flat {
		// Check if a new shard file needs to be opened for writing.
		if i%shardSize == 0 {
			shardIdx++

			// Close the previous shard file.
			if shardFile != nil {
				_ = shardFile.Close()
				shardFile = nil
			}

			// Create the new shard file.
			shardPath := recordFilePath
			if numShards > 1 {
				shardPath += fmtShardSuffix(shardIdx)
			}
			f, err := os.Create(shardPath)
			if err != nil {
				return fmt.Errorf("failed to create shard at %q: %v", shardPath, err)
			}
			shardFile = f
		}

		// Convert the record to an example and write it.
		tfExample := example.New(toTFFeatures(fr.image, fr.record))
		if err := writeTFRecordExample(shardFile, tfExample); err != nil {
			_ = shardFile.Close()
			return fmt.Errorf("failed to write example: %v", err)
		}
	}

	if shardFile != nil {
		return shardFile.Close()
	}

	return nil
}

// toTFFeatures builds the feature map for a single ground-truth record.
func toTFFeatures(img ImageRef, r GroundTruthRecord) map[string]interface{} {
	f := make(map[string]interface{}, 8)
	f["image/id"] = img.ID
	f["image/height"] = img.Height
	f["image/width"] = img.Width
	f["object/class/label"] = r.ClassID
	f["object/instance/id"] = int(r.InstanceID)
	f["object/mask"] = []byte(r.Mask.Pix)
	f["object/mask/height"] = r.Mask.Height
	f["object/mask/width"] = r.Mask.Width
	return f
}

// writeTFRecordExample serialises the example and writes it as a TFRecord to w.
func writeTFRecordExample(w io.Writer, e *tensorflow.Example) error {
	enc, err := proto.Marshal(e)
	if err != nil {
		return err
	}

	return tfrecord.Write(w, enc)
}

// WriteClassMap writes the category-id to class-index mapping to path as JSON,
// ordered by class index.
func WriteClassMap(path string, categories []Category, classIndex map[int]int) error {
	entries := make([]ClassMapEntry, 0, len(categories))
	for _, c := range categories {
		entries = append(entries, ClassMapEntry{
			CategoryID: c.ID,
			ClassID:    classIndex[c.ID],
			Name:       c.Name,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ClassID < entries[j].ClassID })

	enc, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, enc, 0644); err != nil {
		return fmt.Errorf("cannot write the class map %q: %v", path, err)
	}

	return nil
}
