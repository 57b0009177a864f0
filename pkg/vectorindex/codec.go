package vectorindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jinford/policy-rag/pkg/models"
)

const (
	// VectorExt は類似検索構造（ベクトル本体）のアーティファクト拡張子
	VectorExt = ".vec"

	// MetaExt はチャンク本文とメタデータのアーティファクト拡張子
	MetaExt = ".meta.json"

	// formatVersion はバイナリフォーマットのバージョン
	formatVersion uint16 = 1
)

// magicBytes はベクトルアーティファクトの先頭マジック
var magicBytes = [4]byte{'P', 'R', 'V', 'I'}

// VectorKey はステムからベクトルアーティファクトのキー/ファイル名を組み立てます
func VectorKey(stem string) string {
	return stem + VectorExt
}

// MetaKey はステムからメタデータアーティファクトのキー/ファイル名を組み立てます
func MetaKey(stem string) string {
	return stem + MetaExt
}

// metaFile はメタデータアーティファクトのJSON表現
// ベクトル側と突き合わせるためモデル識別子と次元を両方に記録します
type metaFile struct {
	Model     string         `json:"model"`
	Dimension int            `json:"dimension"`
	Chunks    []models.Chunk `json:"chunks"`
}

// Save はインデックスを2つのコンパニオンアーティファクトとして書き出します
//
//	<stem>.vec       類似検索構造（モデルID・次元・ベクトル本体のバイナリ）
//	<stem>.meta.json チャンク本文とメタデータ（位置iがベクトルの位置iに対応）
//
// 一時ファイルに書いてからリネームするため、途中で失敗しても
// 既存のペアは有効なまま残ります（片割れだけ更新された状態を作りません）
func (idx *Index) Save(dir, stem string) error {
	vecData, err := idx.encodeVectors()
	if err != nil {
		return fmt.Errorf("failed to encode vectors: %w", err)
	}

	metaData, err := idx.encodeMeta()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	vecPath := filepath.Join(dir, VectorKey(stem))
	metaPath := filepath.Join(dir, MetaKey(stem))

	// 両方を一時ファイルに書き切ってからリネームする
	vecTmp := vecPath + ".tmp"
	metaTmp := metaPath + ".tmp"

	if err := os.WriteFile(vecTmp, vecData, 0o644); err != nil {
		return fmt.Errorf("failed to write vector artifact: %w", err)
	}
	if err := os.WriteFile(metaTmp, metaData, 0o644); err != nil {
		os.Remove(vecTmp)
		return fmt.Errorf("failed to write metadata artifact: %w", err)
	}

	if err := os.Rename(vecTmp, vecPath); err != nil {
		os.Remove(vecTmp)
		os.Remove(metaTmp)
		return fmt.Errorf("failed to move vector artifact into place: %w", err)
	}
	if err := os.Rename(metaTmp, metaPath); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("failed to move metadata artifact into place: %w", err)
	}

	return nil
}

// Load は2つのコンパニオンアーティファクトからインデックスを復元します
// 2つのアーティファクトの件数・モデル・次元が一致しない場合はErrCorruptIndexを返します
// 片割れだけのインデックスは黙って修復せず、使用不能として報告します
func Load(dir, stem string) (*Index, error) {
	vecData, err := os.ReadFile(filepath.Join(dir, VectorKey(stem)))
	if err != nil {
		return nil, fmt.Errorf("failed to read vector artifact: %w", err)
	}

	metaData, err := os.ReadFile(filepath.Join(dir, MetaKey(stem)))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata artifact: %w", err)
	}

	return Decode(vecData, metaData)
}

// Decode はアーティファクトのバイト列からインデックスを復元します
func Decode(vecData, metaData []byte) (*Index, error) {
	model, dimension, vectors, err := decodeVectors(vecData)
	if err != nil {
		return nil, err
	}

	var meta metaFile
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata artifact is not valid JSON: %v", ErrCorruptIndex, err)
	}

	// 2つのアーティファクトの突き合わせ
	if meta.Model != model {
		return nil, fmt.Errorf("%w: vector artifact built with model %q but metadata records %q",
			ErrCorruptIndex, model, meta.Model)
	}
	if meta.Dimension != dimension {
		return nil, fmt.Errorf("%w: vector artifact dimension %d but metadata records %d",
			ErrCorruptIndex, dimension, meta.Dimension)
	}
	if len(meta.Chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d vectors but %d chunk records",
			ErrCorruptIndex, len(vectors), len(meta.Chunks))
	}

	idx, err := New(model, dimension)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(meta.Chunks, vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

// encodeVectors は類似検索構造をバイナリに直列化します
// レイアウト: magic(4) version(2) modelLen(2) model dimension(4) count(4) float32×dimension×count (LE)
func (idx *Index) encodeVectors() ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(magicBytes[:])
	if err := binary.Write(&buf, binary.LittleEndian, formatVersion); err != nil {
		return nil, err
	}

	modelBytes := []byte(idx.model)
	if len(modelBytes) > 1<<16-1 {
		return nil, fmt.Errorf("model identifier too long: %d bytes", len(modelBytes))
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(modelBytes))); err != nil {
		return nil, err
	}
	buf.Write(modelBytes)

	if err := binary.Write(&buf, binary.LittleEndian, uint32(idx.dimension)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(idx.vectors))); err != nil {
		return nil, err
	}

	for _, vec := range idx.vectors {
		if err := binary.Write(&buf, binary.LittleEndian, vec); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// encodeMeta はチャンクメタデータをJSONに直列化します
func (idx *Index) encodeMeta() ([]byte, error) {
	chunks := idx.chunks
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	return json.MarshalIndent(metaFile{
		Model:     idx.model,
		Dimension: idx.dimension,
		Chunks:    chunks,
	}, "", "  ")
}

// decodeVectors はバイナリからモデルID・次元・ベクトル列を復元します
func decodeVectors(data []byte) (string, int, [][]float32, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != magicBytes {
		return "", 0, nil, fmt.Errorf("%w: bad magic in vector artifact", ErrCorruptIndex)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return "", 0, nil, fmt.Errorf("%w: truncated vector artifact header", ErrCorruptIndex)
	}
	if version != formatVersion {
		return "", 0, nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, version)
	}

	var modelLen uint16
	if err := binary.Read(r, binary.LittleEndian, &modelLen); err != nil {
		return "", 0, nil, fmt.Errorf("%w: truncated vector artifact header", ErrCorruptIndex)
	}
	modelBytes := make([]byte, modelLen)
	if _, err := io.ReadFull(r, modelBytes); err != nil {
		return "", 0, nil, fmt.Errorf("%w: truncated model identifier", ErrCorruptIndex)
	}

	var dimension, count uint32
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return "", 0, nil, fmt.Errorf("%w: truncated vector artifact header", ErrCorruptIndex)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return "", 0, nil, fmt.Errorf("%w: truncated vector artifact header", ErrCorruptIndex)
	}

	// ヘッダが宣言するサイズを信用して確保する前に、実データ長と突き合わせる
	// 壊れたヘッダの巨大なcount/dimensionで確保が走らないようにする
	expected := uint64(count) * uint64(dimension) * 4
	if expected != uint64(r.Len()) {
		return "", 0, nil, fmt.Errorf("%w: header declares %d vectors of dimension %d (%d bytes) but %d bytes remain",
			ErrCorruptIndex, count, dimension, expected, r.Len())
	}

	vectors := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dimension)
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return "", 0, nil, fmt.Errorf("%w: truncated vector data at entry %d", ErrCorruptIndex, i)
		}
		vectors = append(vectors, vec)
	}

	return string(modelBytes), int(dimension), vectors, nil
}
