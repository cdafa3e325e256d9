package triage

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

type ColumnSetting struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Settings holds the user-named sub-columns of the two boards,
// index-aligned with PropertyState.ColumnIndex for that board type.
// Edited only in bulk, full replace.
type Settings struct {
	LikeColumns    []ColumnSetting `json:"likeColumns"`
	DislikeColumns []ColumnSetting `json:"dislikeColumns"`
}

func DefaultSettings() *Settings {
	return &Settings{
		LikeColumns: []ColumnSetting{
			{Color: "#3B82F6", Name: "liked"},
			{Color: "#10B981", Name: "contacted"},
			{Color: "#F59E0B", Name: "visited"},
			{Color: "#EF4444", Name: "want"},
		},
		DislikeColumns: []ColumnSetting{
			{Color: "#3B82F6", Name: "disliked"},
			{Color: "#10B981", Name: "contacted"},
			{Color: "#F59E0B", Name: "visited"},
			{Color: "#EF4444", Name: "want"},
		},
	}
}

// SettingsCache holds the column settings, independent of property state.
// Load falls back to defaults on any error; Save commits the in-memory value
// only on a confirmed success response.
type SettingsCache struct {
	api *Api

	mutex    sync.Mutex
	settings *Settings
}

func NewSettingsCache(api *Api) *SettingsCache {
	return &SettingsCache{
		api:      api,
		settings: DefaultSettings(),
	}
}

func (self *SettingsCache) Load(ctx context.Context) {
	result, err := self.api.GetSettingsSync()
	if err != nil {
		glog.Infof("[settings]load error = %s\n", err)
		return
	}
	if !result.Success || result.Data == nil || result.Data.Settings == nil {
		glog.Infof("[settings]invalid load response, using defaults\n")
		return
	}
	self.mutex.Lock()
	self.settings = result.Data.Settings
	self.mutex.Unlock()
}

func (self *SettingsCache) Settings() *Settings {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.settings
}

func (self *SettingsCache) ColumnSettings(boardType BoardType) []ColumnSetting {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if boardType == BoardLike {
		return self.settings.LikeColumns
	}
	return self.settings.DislikeColumns
}

func (self *SettingsCache) ColumnNames(boardType BoardType) []string {
	columns := self.ColumnSettings(boardType)
	names := make([]string, len(columns))
	for i, column := range columns {
		names[i] = column.Name
	}
	return names
}

func (self *SettingsCache) ColumnColors(boardType BoardType) map[string]string {
	columns := self.ColumnSettings(boardType)
	colors := map[string]string{}
	for _, column := range columns {
		colors[column.Name] = column.Color
	}
	return colors
}

// Save replaces the settings on the server. A false return means the cache
// is unchanged; the error stays with the caller as a boolean, not a panic.
func (self *SettingsCache) Save(ctx context.Context, settings *Settings) bool {
	result, err := self.api.SaveSettingsSync(&SaveSettingsArgs{
		Settings: settings,
	})
	if err != nil {
		glog.Infof("[settings]save error = %s\n", err)
		return false
	}
	if !result.Success || result.Data == nil || result.Data.Settings == nil {
		glog.Infof("[settings]save rejected\n")
		return false
	}
	self.mutex.Lock()
	self.settings = result.Data.Settings
	self.mutex.Unlock()
	return true
}
