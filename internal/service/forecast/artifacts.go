package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact file layout, per symbol under the models dir:
//
//	{dir}/{symbol}/model_{symbol}_horizon{N}_{YYYYMMDD}.json
//	{dir}/{symbol}/scaler_{symbol}_horizon{N}_{YYYYMMDD}.json
//	{dir}/{symbol}/metadata_{symbol}_{YYYYMMDD}.json
//
// Names carry the date only; date equality against today decides
// validity.
type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

type modelFile struct {
	Horizon    int    `json:"horizon"`
	Window     int    `json:"window"`
	TrainStart int64  `json:"train_start"`
	TrainEnd   int64  `json:"train_end"`
	Model      *Model `json:"model"`
}

type scalerFile struct {
	XScaler *MinMaxScaler `json:"x_scaler"`
	YScaler *MinMaxScaler `json:"y_scaler"`
}

type metadataFile struct {
	Symbol   string              `json:"symbol"`
	DateTag  string              `json:"date_tag"`
	Horizons []int               `json:"horizons"`
	Windows  map[string][2]int64 `json:"windows"` // horizon -> [train_start, train_end]
}

func (m *Manager) symbolDir(symbol string) string {
	return filepath.Join(m.dir, strings.ToLower(symbol))
}

func (m *Manager) modelPath(symbol string, h int, tag string) string {
	s := strings.ToLower(symbol)
	return filepath.Join(m.symbolDir(symbol), fmt.Sprintf("model_%s_horizon%d_%s.json", s, h, tag))
}

func (m *Manager) scalerPath(symbol string, h int, tag string) string {
	s := strings.ToLower(symbol)
	return filepath.Join(m.symbolDir(symbol), fmt.Sprintf("scaler_%s_horizon%d_%s.json", s, h, tag))
}

func (m *Manager) metadataPath(symbol, tag string) string {
	s := strings.ToLower(symbol)
	return filepath.Join(m.symbolDir(symbol), fmt.Sprintf("metadata_%s_%s.json", s, tag))
}

// Save persists a complete set. Every file is written to a staging name
// first and renamed into place, so readers never observe partial JSON.
func (m *Manager) Save(set *ModelSet) error {
	if !set.Complete() {
		return fmt.Errorf("save artifacts: set %s/%s incomplete", set.Symbol, set.DateTag)
	}
	if err := os.MkdirAll(m.symbolDir(set.Symbol), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}

	meta := metadataFile{
		Symbol:   strings.ToUpper(set.Symbol),
		DateTag:  set.DateTag,
		Horizons: Horizons,
		Windows:  make(map[string][2]int64, len(Horizons)),
	}

	for _, h := range Horizons {
		hm := set.Models[h]
		mf := modelFile{
			Horizon:    hm.Horizon,
			Window:     hm.Window,
			TrainStart: hm.TrainStart,
			TrainEnd:   hm.TrainEnd,
			Model:      hm.Model,
		}
		if err := writeAtomic(m.modelPath(set.Symbol, h, set.DateTag), mf); err != nil {
			return err
		}
		sf := scalerFile{XScaler: hm.XScaler, YScaler: hm.YScaler}
		if err := writeAtomic(m.scalerPath(set.Symbol, h, set.DateTag), sf); err != nil {
			return err
		}
		meta.Windows[fmt.Sprintf("%d", h)] = [2]int64{hm.TrainStart, hm.TrainEnd}
	}

	// Metadata last: its presence marks the set complete on disk.
	return writeAtomic(m.metadataPath(set.Symbol, set.DateTag), meta)
}

// Load reads the set tagged with dateTag. Returns (nil, nil) when no
// such set exists; a set that exists but cannot be read fully is an
// error.
func (m *Manager) Load(symbol, dateTag string) (*ModelSet, error) {
	var meta metadataFile
	ok, err := readJSON(m.metadataPath(symbol, dateTag), &meta)
	if err != nil {
		return nil, err
	}
	if !ok || meta.DateTag != dateTag {
		return nil, nil
	}

	set := &ModelSet{
		Symbol:  strings.ToUpper(symbol),
		DateTag: dateTag,
		Models:  make(map[int]*HorizonModel, len(Horizons)),
	}
	for _, h := range Horizons {
		var mf modelFile
		if ok, err := readJSON(m.modelPath(symbol, h, dateTag), &mf); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("model file for horizon %d missing", h)
			}
			return nil, fmt.Errorf("load set %s/%s: %w", symbol, dateTag, err)
		}
		var sf scalerFile
		if ok, err := readJSON(m.scalerPath(symbol, h, dateTag), &sf); err != nil || !ok {
			if err == nil {
				err = fmt.Errorf("scaler file for horizon %d missing", h)
			}
			return nil, fmt.Errorf("load set %s/%s: %w", symbol, dateTag, err)
		}
		set.Models[h] = &HorizonModel{
			Horizon:    mf.Horizon,
			Window:     mf.Window,
			TrainStart: mf.TrainStart,
			TrainEnd:   mf.TrainEnd,
			Model:      mf.Model,
			XScaler:    sf.XScaler,
			YScaler:    sf.YScaler,
		}
	}
	return set, nil
}

// DeleteStale removes every artifact for the symbol whose name does not
// carry keepTag.
func (m *Manager) DeleteStale(symbol, keepTag string) error {
	entries, err := os.ReadDir(m.symbolDir(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read models dir: %w", err)
	}

	suffix := "_" + keepTag + ".json"
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if err := os.Remove(filepath.Join(m.symbolDir(symbol), e.Name())); err != nil {
			return fmt.Errorf("delete stale artifact %s: %w", e.Name(), err)
		}
	}
	return nil
}

func writeAtomic(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	staging := path + ".staging"
	if err := os.WriteFile(staging, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(staging), err)
	}
	if err := os.Rename(staging, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON reports (false, nil) for a missing file.
func readJSON(path string, v interface{}) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
