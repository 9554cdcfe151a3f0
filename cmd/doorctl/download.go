package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/FizziMilk/IoT-Access-Control-System-sub000/pkg/logging"
)

// requiredModels are the dlib files both the landmark provider and the
// recognizer need. The 68-point predictor feeds liveness, the 5-point
// predictor and resnet feed recognition.
var requiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"shape_predictor_68_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

const modelBaseURL = "http://dlib.net/files/"

func cmdDownloadModels(args []string) error {
	modelDir := cfg.Recognition.ModelPath
	if len(args) > 0 {
		modelDir = args[0]
	}

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	logging.Infof("Fetching dlib models into: %s", modelDir)

	for _, name := range requiredModels {
		target := filepath.Join(modelDir, name)
		if _, err := os.Stat(target); err == nil {
			logging.Infof("%s already present, skipping", name)
			continue
		}
		logging.Infof("Fetching %s", name)
		if err := fetchModel(modelBaseURL+name+".bz2", target); err != nil {
			return fmt.Errorf("failed to fetch %s: %w", name, err)
		}
	}

	logging.Info("All models are in place")
	return nil
}

// fetchModel downloads and decompresses one model. The file is written
// under a temporary name first so an interrupted download never leaves
// a truncated model behind.
func fetchModel(url, target string) error {
	client := &http.Client{Timeout: 10 * time.Minute}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := target + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, bzip2.NewReader(resp.Body)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}
