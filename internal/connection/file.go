package connection

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// FileReader воспроизводит записанный поток байт. После конца файла чтение всегда пустое.
type FileReader struct {
	f    *os.File
	r    *bufio.Reader
	name string
}

// OpenFileReader открывает файл для воспроизведения
func OpenFileReader(path string) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file open %s: %w", path, err)
	}
	return &FileReader{f: f, r: bufio.NewReader(f), name: path}, nil
}

// Read читает до n байт; в конце файла — пусто
func (fr *FileReader) Read(n int) ([]byte, error) {
	if fr.f == nil {
		return nil, ErrClosed
	}
	buf := make([]byte, n)
	k, err := io.ReadFull(fr.r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return buf[:k], fmt.Errorf("file read %s: %w", fr.name, err)
	}
	return buf[:k], nil
}

// ReadUntil читает до delim или limit байт
func (fr *FileReader) ReadUntil(delim []byte, limit int) ([]byte, error) {
	return readUntil(fr.Read, delim, limit)
}

// ReadReady — остались непрочитанные байты
func (fr *FileReader) ReadReady() bool {
	if fr.f == nil {
		return false
	}
	_, err := fr.r.Peek(1)
	return err == nil
}

// ReadAll читает файл до конца
func (fr *FileReader) ReadAll() ([]byte, error) {
	if fr.f == nil {
		return nil, ErrClosed
	}
	return io.ReadAll(fr.r)
}

// Write не поддерживается
func (fr *FileReader) Write([]byte) (int, error) { return 0, ErrUnsupported }

// ResetInputBuffer ничего не делает: запись воспроизводится целиком
func (fr *FileReader) ResetInputBuffer() error { return nil }

// SetTimeout ничего не делает
func (fr *FileReader) SetTimeout(time.Duration) error { return nil }

// Timeout — 0
func (fr *FileReader) Timeout() time.Duration { return 0 }

// SetBaud ничего не делает
func (fr *FileReader) SetBaud(int) error { return nil }

// Baud — 0
func (fr *FileReader) Baud() int { return 0 }

// Name — путь к файлу
func (fr *FileReader) Name() string { return fr.name }

// Kind — KindFileReader
func (fr *FileReader) Kind() Kind { return KindFileReader }

// Close закрывает файл
func (fr *FileReader) Close() error {
	if fr.f == nil {
		return nil
	}
	err := fr.f.Close()
	fr.f = nil
	return err
}

// FileWriter записывает поток байт в файл без изменений
type FileWriter struct {
	f    *os.File
	w    *bufio.Writer
	name string
}

// CreateFileWriter создаёт (или перезаписывает) файл записи
func CreateFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file create %s: %w", path, err)
	}
	return &FileWriter{f: f, w: bufio.NewWriter(f), name: path}, nil
}

// Read всегда пустой
func (fw *FileWriter) Read(int) ([]byte, error) { return nil, nil }

// ReadUntil всегда пустой
func (fw *FileWriter) ReadUntil([]byte, int) ([]byte, error) { return nil, nil }

// ReadReady — false
func (fw *FileWriter) ReadReady() bool { return false }

// ReadAll всегда пустой
func (fw *FileWriter) ReadAll() ([]byte, error) { return nil, nil }

// Write дописывает байты в файл
func (fw *FileWriter) Write(p []byte) (int, error) {
	if fw.f == nil {
		return 0, ErrClosed
	}
	return fw.w.Write(p)
}

// Flush сбрасывает буфер на диск
func (fw *FileWriter) Flush() error {
	if fw.f == nil {
		return ErrClosed
	}
	return fw.w.Flush()
}

// ResetInputBuffer ничего не делает
func (fw *FileWriter) ResetInputBuffer() error { return nil }

// SetTimeout ничего не делает
func (fw *FileWriter) SetTimeout(time.Duration) error { return nil }

// Timeout — 0
func (fw *FileWriter) Timeout() time.Duration { return 0 }

// SetBaud ничего не делает
func (fw *FileWriter) SetBaud(int) error { return nil }

// Baud — 0
func (fw *FileWriter) Baud() int { return 0 }

// Name — путь к файлу
func (fw *FileWriter) Name() string { return fw.name }

// Kind — KindFileWriter
func (fw *FileWriter) Kind() Kind { return KindFileWriter }

// Close сбрасывает буфер и закрывает файл
func (fw *FileWriter) Close() error {
	if fw.f == nil {
		return nil
	}
	ferr := fw.w.Flush()
	err := fw.f.Close()
	fw.f = nil
	if ferr != nil {
		return ferr
	}
	return err
}
