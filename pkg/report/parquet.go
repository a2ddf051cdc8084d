package report

import (
	"github.com/juju/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

const parquetGoRoutines int64 = 4

// ParquetSink appends Rows to a parquet file. It is not safe for concurrent
// use; the search calls reporters from one goroutine.
type ParquetSink struct {
	path string
	fw   source.ParquetFile
	pw   *writer.ParquetWriter
	rows int
}

// NewParquetSink creates (or truncates) the parquet file at path.
func NewParquetSink(path string) (*ParquetSink, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, errors.Annotatef(err, "creating %s", path)
	}
	pw, err := writer.NewParquetWriter(fw, new(Row), parquetGoRoutines)
	if err != nil {
		fw.Close()
		return nil, errors.Annotate(err, "creating parquet writer")
	}
	return &ParquetSink{path: path, fw: fw, pw: pw}, nil
}

// Write appends rows.
func (s *ParquetSink) Write(rows []Row) error {
	for _, r := range rows {
		if err := s.pw.Write(r); err != nil {
			return errors.Annotatef(err, "writing row %d to %s", s.rows, s.path)
		}
		s.rows++
	}
	return nil
}

// Rows returns the number of rows written so far.
func (s *ParquetSink) Rows() int { return s.rows }

// Close flushes the footer and closes the file.
func (s *ParquetSink) Close() error {
	if err := s.pw.WriteStop(); err != nil {
		s.fw.Close()
		return errors.Annotatef(err, "finishing %s", s.path)
	}
	return errors.Trace(s.fw.Close())
}

// ReadParquet loads every Row of a file written by ParquetSink.
func ReadParquet(path string) ([]Row, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(Row), parquetGoRoutines)
	if err != nil {
		return nil, errors.Annotate(err, "creating parquet reader")
	}
	defer pr.ReadStop()
	rows := make([]Row, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	return rows, nil
}
