package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/jinford/policy-rag/pkg/config"
	"github.com/jinford/policy-rag/pkg/vectorindex"
)

// s3API はStoreが必要とするS3操作の最小セットです
// テストではインメモリのフェイクに差し替えます
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store はインデックスアーティファクトの永続化先となるオブジェクトストアのクライアントです
// オブジェクトストアが耐久性の境界であり、ローカルの一時ファイルは使い捨てです
type Store struct {
	api    s3API
	bucket string
}

// IndexRef はバケット内の完全なインデックスペア（2つのコンパニオンキー）への参照です
type IndexRef struct {
	// Stem は2つのキーに共通するステム（正規化済み文書名）
	Stem string

	// VectorKey / MetaKey は2つのコンパニオンアーティファクトのキー
	VectorKey string
	MetaKey   string
}

// New はAWS SDKのデフォルト認証チェーンでStoreを作成します
func New(ctx context.Context, cfg config.AWSConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is not configured (set BUCKET_NAME)")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return &Store{
		api:    s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
	}, nil
}

// NewWithAPI は任意のS3実装でStoreを作成します（テスト用）
func NewWithAPI(api s3API, bucket string) *Store {
	return &Store{api: api, bucket: bucket}
}

// Exists はキーの存在を確認します
// 404はfalseとして返し、権限エラーなどそれ以外の失敗はエラーとして呼び出し元へ返します
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence of %s: %w", key, err)
	}
	return true, nil
}

// Put はキーへバイト列を書き込みます
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get はキーの内容を読み出します
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", key, err)
	}
	return data, nil
}

// List はプレフィックスに一致するキーの一覧を返します
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuation *string

	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err)
		}

		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	return keys, nil
}

// IndexExists はステムに対応する2つのコンパニオンキーが両方存在するかを確認します
func (s *Store) IndexExists(ctx context.Context, stem string) (bool, error) {
	vecExists, err := s.Exists(ctx, vectorindex.VectorKey(stem))
	if err != nil {
		return false, err
	}
	metaExists, err := s.Exists(ctx, vectorindex.MetaKey(stem))
	if err != nil {
		return false, err
	}
	return vecExists && metaExists, nil
}

// UploadIndex はローカルに保存されたインデックスペアをアップロードします
func (s *Store) UploadIndex(ctx context.Context, dir, stem string) (IndexRef, error) {
	ref := IndexRef{
		Stem:      stem,
		VectorKey: vectorindex.VectorKey(stem),
		MetaKey:   vectorindex.MetaKey(stem),
	}

	vecData, err := os.ReadFile(filepath.Join(dir, ref.VectorKey))
	if err != nil {
		return IndexRef{}, fmt.Errorf("failed to read local vector artifact: %w", err)
	}
	metaData, err := os.ReadFile(filepath.Join(dir, ref.MetaKey))
	if err != nil {
		return IndexRef{}, fmt.Errorf("failed to read local metadata artifact: %w", err)
	}

	// ベクトル側を先に置き、メタデータ側で締める
	// 読み手はペアが揃ったステムしか採用しない（ListIndexRefs参照）
	if err := s.Put(ctx, ref.VectorKey, vecData); err != nil {
		return IndexRef{}, err
	}
	if err := s.Put(ctx, ref.MetaKey, metaData); err != nil {
		return IndexRef{}, err
	}

	return ref, nil
}

// DownloadIndex はインデックスペアをローカルディレクトリへ取得します
func (s *Store) DownloadIndex(ctx context.Context, dir, stem string) error {
	vecData, err := s.Get(ctx, vectorindex.VectorKey(stem))
	if err != nil {
		return err
	}
	metaData, err := s.Get(ctx, vectorindex.MetaKey(stem))
	if err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, vectorindex.VectorKey(stem)), vecData, 0o644); err != nil {
		return fmt.Errorf("failed to write local vector artifact: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, vectorindex.MetaKey(stem)), metaData, 0o644); err != nil {
		return fmt.Errorf("failed to write local metadata artifact: %w", err)
	}
	return nil
}

// ListIndexRefs はバケット内の完全なインデックスペアをステム昇順で返します
// 片割れしか存在しないステムは使用不能なので一覧に含めません
func (s *Store) ListIndexRefs(ctx context.Context) ([]IndexRef, error) {
	keys, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	vecStems := make(map[string]bool)
	metaStems := make(map[string]bool)
	for _, key := range keys {
		switch {
		case strings.HasSuffix(key, vectorindex.VectorExt):
			vecStems[strings.TrimSuffix(key, vectorindex.VectorExt)] = true
		case strings.HasSuffix(key, vectorindex.MetaExt):
			metaStems[strings.TrimSuffix(key, vectorindex.MetaExt)] = true
		}
	}

	var refs []IndexRef
	for stem := range vecStems {
		if metaStems[stem] {
			refs = append(refs, IndexRef{
				Stem:      stem,
				VectorKey: vectorindex.VectorKey(stem),
				MetaKey:   vectorindex.MetaKey(stem),
			})
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Stem < refs[j].Stem
	})
	return refs, nil
}

// Bucket はバケット名を返します
func (s *Store) Bucket() string {
	return s.bucket
}

// isNotFound はS3のエラーが404相当かどうかを判定します
func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
