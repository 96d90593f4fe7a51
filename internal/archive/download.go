package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"threebar/internal/model"
)

const (
	// PublicBucket hosts the Binance market data dumps.
	PublicBucket = "data.binance.vision"
	publicRegion = "ap-northeast-1"

	// FuturesMonthlyPrefix is the key prefix for USDⓈ-M monthly klines.
	FuturesMonthlyPrefix = "data/futures/um/monthly/klines"
)

// Downloader lists and fetches monthly kline zips from the public bucket.
type Downloader struct {
	s3     s3iface.S3API
	bucket string
	prefix string
}

// NewDownloader creates an anonymous S3 client for the public bucket.
func NewDownloader() (*Downloader, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(publicRegion),
		Credentials: credentials.AnonymousCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: aws session: %w", err)
	}
	return &Downloader{s3: s3.New(sess), bucket: PublicBucket, prefix: FuturesMonthlyPrefix}, nil
}

// List returns the zip keys for symbol and interval ordered by month.
func (d *Downloader) List(ctx context.Context, symbol, interval string) ([]string, error) {
	prefix := path.Join(d.prefix, symbol, interval) + "/"
	var keys []string
	err := d.s3.ListObjectsPagesWithContext(ctx, &s3.ListObjectsInput{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsOutput, _ bool) bool {
		for _, obj := range page.Contents {
			if k := aws.StringValue(obj.Key); strings.HasSuffix(k, ".zip") {
				keys = append(keys, k)
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list %s: %w", prefix, err)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := ParseName(keys[i])
		b, _ := ParseName(keys[j])
		return a.Month < b.Month
	})
	return keys, nil
}

// Download writes the object at key into dir and returns the local path.
func (d *Downloader) Download(ctx context.Context, key, dir string) (string, error) {
	resp, err := d.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer resp.Body.Close()

	dst := filepath.Join(dir, path.Base(key))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("archive: write %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("archive: close %s: %w", dst, err)
	}
	return dst, nil
}

// Fetch downloads every month for symbol and interval into a temporary
// directory, parses it and hands the candles to fn one month at a time.
// Each zip is removed once parsed.
func (d *Downloader) Fetch(ctx context.Context, symbol, interval string, fn func([]model.Candle) error) error {
	keys, err := d.List(ctx, symbol, interval)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "binance-data-")
	if err != nil {
		return fmt.Errorf("archive: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	for i, key := range keys {
		log.Printf("[archive] %d/%d %s", i+1, len(keys), key)
		local, err := d.Download(ctx, key, dir)
		if err != nil {
			return err
		}
		candles, err := ReadZip(local, symbol, interval)
		os.Remove(local)
		if err != nil {
			return err
		}
		if err := fn(candles); err != nil {
			return err
		}
	}
	return nil
}
