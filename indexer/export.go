package indexer

import (
	"context"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

const exportPageSize = 500

type parquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Root       string `parquet:"name=root, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp  int64  `parquet:"name=timestamp, type=INT64"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// ExportParquet writes the full archived history to path and returns the
// number of rows written.
func (s *Store) ExportParquet(ctx context.Context, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	var after uint64
	for {
		var rows []EventRecord
		err := s.db.WithContext(ctx).Where("sequence > ?", after).Order("sequence asc").Limit(exportPageSize).Find(&rows).Error
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, fmt.Errorf("indexer: export page: %w", err)
		}
		for _, row := range rows {
			pr := &parquetRow{
				Sequence:   int64(row.Sequence),
				Type:       row.Type,
				Root:       row.Root,
				Timestamp:  row.Timestamp,
				Attributes: row.Attributes,
			}
			if err := pw.Write(pr); err != nil {
				pw.WriteStop()
				file.Close()
				return written, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
			after = row.Sequence
		}
		if len(rows) < exportPageSize {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}
