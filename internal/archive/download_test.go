package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"threebar/internal/model"
)

// fakeS3 serves objects from memory, two keys per listing page.
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	keys    []string
}

func (f *fakeS3) ListObjectsPagesWithContext(_ aws.Context, in *s3.ListObjectsInput, fn func(*s3.ListObjectsOutput, bool) bool, _ ...request.Option) error {
	var match []*s3.Object
	for _, k := range f.keys {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			match = append(match, &s3.Object{Key: aws.String(k)})
		}
	}
	for i := 0; i < len(match); i += 2 {
		end := i + 2
		if end > len(match) {
			end = len(match)
		}
		if !fn(&s3.ListObjectsOutput{Contents: match[i:end]}, end == len(match)) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.StringValue(in.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func zipBytes(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create(name)
	w.Write([]byte(body))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownloader_FetchInMonthOrder(t *testing.T) {
	base := FuturesMonthlyPrefix + "/BTCUSDT/5m/"
	fake := &fakeS3{
		keys: []string{
			base + "BTCUSDT-5m-2024-02.zip",
			base + "BTCUSDT-5m-2024-02.zip.CHECKSUM",
			base + "BTCUSDT-5m-2024-01.zip",
			FuturesMonthlyPrefix + "/ETHUSDT/5m/ETHUSDT-5m-2024-01.zip",
		},
		objects: map[string][]byte{
			base + "BTCUSDT-5m-2024-01.zip": zipBytes(t, "BTCUSDT-5m-2024-01.csv", rows),
			base + "BTCUSDT-5m-2024-02.zip": zipBytes(t, "BTCUSDT-5m-2024-02.csv", header+"1706745600000,1,2,0.5,1.5,10,1706745899999,10,3,5,5,0\n"),
		},
	}
	d := &Downloader{s3: fake, bucket: PublicBucket, prefix: FuturesMonthlyPrefix}

	keys, err := d.List(context.Background(), "BTCUSDT", "5m")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || !strings.HasSuffix(keys[0], "2024-01.zip") {
		t.Fatalf("keys = %v", keys)
	}

	var batches [][]model.Candle
	err = d.Fetch(context.Background(), "BTCUSDT", "5m", func(c []model.Candle) error {
		batches = append(batches, c)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batch sizes wrong: %d batches", len(batches))
	}
	if !batches[0][0].StartTime.Before(batches[1][0].StartTime) {
		t.Error("months delivered out of order")
	}
}

func TestDownloader_MissingObject(t *testing.T) {
	fake := &fakeS3{keys: []string{FuturesMonthlyPrefix + "/BTCUSDT/5m/BTCUSDT-5m-2024-01.zip"}}
	d := &Downloader{s3: fake, bucket: PublicBucket, prefix: FuturesMonthlyPrefix}
	err := d.Fetch(context.Background(), "BTCUSDT", "5m", func([]model.Candle) error { return nil })
	if err == nil {
		t.Fatal("expected download error")
	}
}
