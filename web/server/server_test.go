package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"go.viam.com/framedetect/logging"
	"go.viam.com/framedetect/ml"
	"go.viam.com/framedetect/ml/inference"
	"go.viam.com/framedetect/services/detectlabel"
	"go.viam.com/framedetect/testutils"
	"go.viam.com/framedetect/testutils/inject"
	"go.viam.com/framedetect/utils"
)

const (
	side     = 8
	capacity = 4
)

func webEngine() *inject.Engine {
	e := inject.DetectorEngine(ml.Float32, side, capacity)
	e.InvokeFunc = func(input interface{}) ([]*tensor.Dense, error) {
		if buf, ok := input.([]float32); !ok || len(buf) != side*side*3 {
			return nil, errors.Errorf("bad input %T", input)
		}
		return []*tensor.Dense{
			ml.NewFloat32Tensor([]float32{0.9, 0.4, 0.1, 0}, 1, capacity),
			ml.NewFloat32Tensor([]float32{
				0, 0, 0.5, 0.5,
				0.5, 0.5, 1, 1,
				0, 0, 1, 1,
				0, 0, 0, 0,
			}, 1, capacity, 4),
			ml.NewFloat32Tensor([]float32{2}, 1),
			ml.NewFloat32Tensor([]float32{1, 0, 0, 0}, 1, capacity),
		}, nil
	}
	return e
}

func init() {
	inference.RegisterBackend(".webfake", func(_ context.Context, path string, _ inference.Options) (inference.Engine, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return webEngine(), nil
	})
}

func newTestServer(t *testing.T, withModel bool) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	uri := testutils.FileURI(testutils.WriteFile(t, dir, "model.webfake", "model"))
	conf := &detectlabel.Config{
		InputSize:          side,
		DetectionsCapacity: capacity,
		LabelPath:          testutils.WriteFile(t, dir, "labels.txt", "person\ncat\n"),
	}
	if withModel {
		conf.ModelPath = uri
	}
	logger := logging.NewTestLogger(t)
	p, err := detectlabel.New(context.Background(), conf, logger)
	test.That(t, err, test.ShouldBeNil)
	ts := httptest.NewServer(New(p, logger).Handler())
	t.Cleanup(func() {
		ts.Close()
		test.That(t, p.Close(context.Background()), test.ShouldBeNil)
	})
	return ts, uri
}

func pngBody(t *testing.T) io.Reader {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	return &buf
}

func TestDetectImage(t *testing.T) {
	ts, _ := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/detect?min_score=0.3", utils.MimeTypePNG, pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var out struct {
		Scores         []float64 `json:"scores"`
		BoundingBoxes  []struct{ X, Y, Width, Height float64 }
		DetectionCount int `json:"detectionCount"`
		Detections     []struct {
			Label string  `json:"label"`
			Score float64 `json:"score"`
		} `json:"detections"`
	}
	test.That(t, json.NewDecoder(resp.Body).Decode(&out), test.ShouldBeNil)
	test.That(t, out.Scores, test.ShouldHaveLength, capacity)
	test.That(t, out.BoundingBoxes, test.ShouldHaveLength, capacity)
	test.That(t, out.DetectionCount, test.ShouldEqual, 2)
	test.That(t, out.Detections, test.ShouldHaveLength, 2)
	test.That(t, out.Detections[0].Label, test.ShouldEqual, "cat")
	test.That(t, out.Detections[1].Label, test.ShouldEqual, "person")
}

func TestDetectRawFrame(t *testing.T) {
	ts, uri := newTestServer(t, false)

	q := url.Values{}
	q.Set("model", uri)
	q.Set("width", "4")
	q.Set("height", "2")
	q.Set("format", "nv21")
	q.Set("rotation", "90")
	resp, err := http.Post(ts.URL+"/detect?"+q.Encode(), utils.MimeTypeRawFrame, bytes.NewReader(make([]byte, 12)))
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	q.Set("rotation", "45")
	resp2, err := http.Post(ts.URL+"/detect?"+q.Encode(), utils.MimeTypeRawFrame, bytes.NewReader(make([]byte, 12)))
	test.That(t, err, test.ShouldBeNil)
	defer resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusBadRequest)
}

func TestDetectErrors(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/detect", utils.MimeTypePNG, pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	resp, err = http.Post(ts.URL+"/detect?model="+url.QueryEscape("file:///nowhere/model.webfake"), utils.MimeTypePNG, pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusUnprocessableEntity)

	resp, err = http.Post(ts.URL+"/detect?model="+url.QueryEscape("http://example.com/model.webfake"), utils.MimeTypePNG, pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusBadRequest)

	resp, err = http.Get(ts.URL + "/model")
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)

	resp, err = http.Post(ts.URL+"/model/reload", "", nil)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
}

func TestModelAndStats(t *testing.T) {
	ts, uri := newTestServer(t, true)

	resp, err := http.Get(ts.URL + "/model")
	test.That(t, err, test.ShouldBeNil)
	var info map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&info), test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, info["uri"], test.ShouldEqual, uri)
	test.That(t, info["input"], test.ShouldEqual, "image float32[1 8 8 3]")

	resp, err = http.Post(ts.URL+"/model/reload", "", nil)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNoContent)

	resp, err = http.Get(ts.URL + "/stats")
	test.That(t, err, test.ShouldBeNil)
	var stats detectlabel.Stats
	test.That(t, json.NewDecoder(resp.Body).Decode(&stats), test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, stats.Loads, test.ShouldEqual, uint64(2))
	test.That(t, stats.ModelURI, test.ShouldEqual, uri)
}

func TestStatusFor(t *testing.T) {
	test.That(t, statusFor(errors.Wrap(detectlabel.ErrModelLoadFailure, "x")), test.ShouldEqual, http.StatusUnprocessableEntity)
	test.That(t, statusFor(detectlabel.ErrModelLoading), test.ShouldEqual, http.StatusServiceUnavailable)
	test.That(t, statusFor(detectlabel.ErrNoModel), test.ShouldEqual, http.StatusNotFound)
	test.That(t, statusFor(errors.Wrap(detectlabel.ErrInferenceFailure, "x")), test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, statusFor(errors.New("other")), test.ShouldEqual, http.StatusInternalServerError)
}

func TestRequestIDAndSchema(t *testing.T) {
	ts, _ := newTestServer(t, true)

	resp, err := http.Post(ts.URL+"/detect", utils.MimeTypePNG, pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	_, err = uuid.Parse(resp.Header.Get(RequestIDHeader))
	test.That(t, err, test.ShouldBeNil)

	id := uuid.New()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/detect", pngBody(t))
	test.That(t, err, test.ShouldBeNil)
	req.Header.Set("Content-Type", utils.MimeTypePNG)
	req.Header.Set(RequestIDHeader, id.String())
	resp, err = http.DefaultClient.Do(req)
	test.That(t, err, test.ShouldBeNil)
	resp.Body.Close()
	test.That(t, resp.Header.Get(RequestIDHeader), test.ShouldEqual, id.String())

	resp, err = http.Get(ts.URL + "/schema")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(body), test.ShouldContainSubstring, "model_path")
	test.That(t, string(body), test.ShouldContainSubstring, "block_during_load")
}

func TestRequestIDReplacesMalformed(t *testing.T) {
	header := http.Header{}
	header.Set(RequestIDHeader, "not-a-uuid")
	test.That(t, requestID(header), test.ShouldNotEqual, uuid.Nil)
	test.That(t, requestID(http.Header{}), test.ShouldNotEqual, requestID(http.Header{}))
}

func TestDetectFilters(t *testing.T) {
	ts, _ := newTestServer(t, true)

	detect := func(query string) (int, []string) {
		resp, err := http.Post(ts.URL+"/detect?"+query, utils.MimeTypePNG, pngBody(t))
		test.That(t, err, test.ShouldBeNil)
		defer resp.Body.Close()
		var out struct {
			Detections []struct {
				Label string `json:"label"`
			} `json:"detections"`
		}
		if resp.StatusCode == http.StatusOK {
			test.That(t, json.NewDecoder(resp.Body).Decode(&out), test.ShouldBeNil)
		}
		var labels []string
		for _, d := range out.Detections {
			labels = append(labels, d.Label)
		}
		return resp.StatusCode, labels
	}

	status, labels := detect("categories=0")
	test.That(t, status, test.ShouldEqual, http.StatusOK)
	test.That(t, labels, test.ShouldResemble, []string{"person"})

	status, labels = detect("categories=0,1&min_area=0.2")
	test.That(t, status, test.ShouldEqual, http.StatusOK)
	test.That(t, labels, test.ShouldResemble, []string{"cat", "person"})

	status, labels = detect("min_area=0.3")
	test.That(t, status, test.ShouldEqual, http.StatusOK)
	test.That(t, labels, test.ShouldBeEmpty)

	status, _ = detect("categories=cat")
	test.That(t, status, test.ShouldEqual, http.StatusBadRequest)
	status, _ = detect("min_area=big")
	test.That(t, status, test.ShouldEqual, http.StatusBadRequest)
}
