package netsync

import "go.uber.org/zap"

// Options 各连接共用的可选依赖；零值字段使用默认实现
type Options struct {
	Log      *zap.SugaredLogger
	Recorder Recorder
	Metrics  *Metrics
	Loss     *LossRoller
}

func (o Options) withDefaults() Options {
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	if o.Recorder == nil {
		o.Recorder = RecorderFunc(func(Record) {})
	}
	if o.Metrics == nil {
		o.Metrics = &Metrics{}
	}
	if o.Loss == nil {
		o.Loss = NewLossRoller(0)
	}
	return o
}
