package backend

// Spec 单个视频生成后端的静态描述。后端即数据：
// 链路顺序、时长范围、价格都来自这里，调用逻辑共用一个客户端。
type Spec struct {
	ID            string  `yaml:"id"`
	Path          string  `yaml:"path"`           // API路径
	MinDuration   int     `yaml:"min_duration"`   // 支持的最短时长（秒）
	MaxDuration   int     `yaml:"max_duration"`   // 支持的最长时长（秒）
	Durations     []int   `yaml:"durations"`      // 离散时长集合，空则为连续范围
	CostPerSecond float64 `yaml:"cost_per_second"`
	FPS           int     `yaml:"fps"`
	AspectRatio   string  `yaml:"aspect_ratio"`
	Enabled       bool    `yaml:"enabled"`
}

// Registry 按优先级排列的后端集合
type Registry struct {
	order []string
	specs map[string]Spec
}

func NewRegistry(specs []Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		r.order = append(r.order, s.ID)
		r.specs[s.ID] = s
	}
	return r
}

// DefaultSpecs 默认后端链，按优先级排列
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID: "seedance", Path: "/v1/seedance/generations",
			MinDuration: 2, MaxDuration: 12,
			CostPerSecond: 0.04, FPS: 24, AspectRatio: "16:9", Enabled: true,
		},
		{
			ID: "kling", Path: "/v1/kling/text-to-video",
			MinDuration: 4, MaxDuration: 10, Durations: []int{4, 6, 8, 10},
			CostPerSecond: 0.07, FPS: 30, AspectRatio: "16:9", Enabled: true,
		},
		{
			ID: "ltx", Path: "/v1/ltx/generate",
			MinDuration: 2, MaxDuration: 8, Durations: []int{2, 4, 6, 8},
			CostPerSecond: 0.02, FPS: 25, AspectRatio: "16:9", Enabled: true,
		},
	}
}

// DefaultChain 默认的模型优先级链
func (r *Registry) DefaultChain() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Lookup(id string) (Spec, bool) {
	s, ok := r.specs[id]
	return s, ok
}

// Specs 按优先级返回全部后端
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

// ClampDuration 把请求时长收敛到后端支持的范围。离散集合取最近值，
// 距离相同时固定取较小值，保证结果可复现。
func ClampDuration(s Spec, requested int) int {
	if requested < s.MinDuration {
		requested = s.MinDuration
	}
	if s.MaxDuration > 0 && requested > s.MaxDuration {
		requested = s.MaxDuration
	}
	if len(s.Durations) == 0 {
		return requested
	}
	best := s.Durations[0]
	for _, d := range s.Durations[1:] {
		bd := abs(requested - best)
		dd := abs(requested - d)
		if dd < bd || (dd == bd && d < best) {
			best = d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
