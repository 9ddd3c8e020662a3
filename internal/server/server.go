package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"davinci-code/internal/config"
	"davinci-code/internal/game"
	"davinci-code/internal/store"

	"gorm.io/gorm"
)

type Server struct {
	st  *store.Client
	db  *gorm.DB
	ws  *wsHub
	cfg config.Config

	roomsMu sync.Mutex
	rooms   map[string]*roomEntry

	ctx    context.Context
	cancel context.CancelFunc
}

// roomEntry is the server-side bookkeeping for one room: the activity clock
// the idle sweeper reads, and the cancel handle for the host watcher.
type roomEntry struct {
	hostUID     string
	lastActive  time.Time
	stopWatcher context.CancelFunc
}

func New(st *store.Client, conn *gorm.DB, cfg config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		st:     st,
		db:     conn,
		ws:     newWSHub(),
		cfg:    cfg,
		rooms:  make(map[string]*roomEntry),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.broadcastLoop(ctx)
	return s
}

// Close stops the broadcast loop and every room watcher.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /api/rooms/", s.handleRoomSubroutes)
	mux.HandleFunc("POST /api/rooms/", s.handleRoomSubroutes)
	mux.HandleFunc("GET /ws/rooms/", s.handleWebsocket)
	return mux
}

// repo builds the per-identity repository with the audit sink attached.
func (s *Server) repo(roomID, uid string) *game.Repository {
	return game.NewRepository(s.st, roomID, uid).WithEvents(s.persistEvent)
}

func (s *Server) touch(roomID string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if entry, ok := s.rooms[roomID]; ok {
		entry.lastActive = time.Now()
	}
}

func (s *Server) register(roomID, hostUID string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	s.rooms[roomID] = &roomEntry{hostUID: hostUID, lastActive: time.Now()}
}

func (s *Server) roomIDs() []string {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}
