package trader

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"dipbot/logger"
)

// Store 基于SQLite的状态持久化。
// 状态以单行JSON文档形式存储：WAL + synchronous=FULL保证崩溃后
// 读到的要么是旧快照要么是新快照，绝不会是半成品。
type Store struct {
	db *sql.DB
}

// OpenStore 打开（或创建）状态数据库
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开状态数据库失败: %w", err)
	}

	// SQLite仅支持单写入者
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置SQLite参数失败 (%s): %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS bot_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建状态表失败: %w", err)
	}

	return &Store{db: db}, nil
}

// Close 关闭数据库连接
func (st *Store) Close() error {
	return st.db.Close()
}

// Load 加载状态快照。数据库为空时尝试导入旧版JSON文件，
// 再没有则返回全新的默认状态。
func (st *Store) Load(legacyJSONPath string, trendWindow, smaWindow int) (*State, error) {
	var doc string
	err := st.db.QueryRow("SELECT doc FROM bot_state WHERE id = 1").Scan(&doc)
	switch {
	case err == sql.ErrNoRows:
		if s := st.importLegacy(legacyJSONPath); s != nil {
			s.CapLists(trendWindow, smaWindow)
			if err := st.Save(s); err != nil {
				return nil, err
			}
			return s, nil
		}
		logger.Log.Info("📋 未找到已保存状态，使用初始状态")
		return NewState(), nil
	case err != nil:
		return nil, fmt.Errorf("读取状态失败: %w", err)
	}

	s := NewState()
	if err := json.Unmarshal([]byte(doc), s); err != nil {
		return nil, fmt.Errorf("解析状态文档失败: %w", err)
	}
	s.CapLists(trendWindow, smaWindow)
	logger.Log.Infof("✓ 已加载状态: position=%s entry=%.2f last_sell=%.2f trades=%d",
		s.Position, s.EntryPrice, s.LastSellPrice, s.TradeCount)
	return s, nil
}

// Save 在事务中整体替换状态快照
func (st *Store) Save(s *State) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("序列化状态失败: %w", err)
	}

	tx, err := st.db.Begin()
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO bot_state (id, doc, updated_at) VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		string(doc))
	if err != nil {
		return fmt.Errorf("写入状态失败: %w", err)
	}
	return tx.Commit()
}

// importLegacy 一次性导入旧版bot_state.json；文件缺失或损坏时返回nil
func (st *Store) importLegacy(path string) *State {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	s := NewState()
	if err := json.Unmarshal(data, s); err != nil {
		logger.Log.Warnf("⚠️ 旧版状态文件损坏，忽略: %v", err)
		return nil
	}
	logger.Log.Infof("🔄 已从旧版状态文件迁移: %s", path)
	return s
}
