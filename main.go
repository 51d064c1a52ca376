package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/manningwu07/nmt/IO"
	"github.com/manningwu07/nmt/data"
	"github.com/manningwu07/nmt/model"
	"github.com/manningwu07/nmt/params"
	"github.com/manningwu07/nmt/train"
	"github.com/manningwu07/nmt/utils"
)

var (
	configPath    string
	exportFlag    bool
	trainFlag     bool
	translateFlag bool
	cliFlag       bool
	forceFlag     bool
	sampleFlag    bool

	srcTokenizer string
	trgTokenizer string
	srcText      string
	trgText      string
	validSrcText string
	validTrgText string
	inputGlob    string
	maxShardMB   int64
)

func init() {
	flag.StringVar(&configPath, "config", "", "JSON config; defaults are used when empty")
	flag.BoolVar(&exportFlag, "export", false, "Tokenize raw bitext into the configured token stores")
	flag.BoolVar(&trainFlag, "train", false, "Train a model on the exported corpus")
	flag.BoolVar(&translateFlag, "translate", false, "Translate every line of the files matching -input")
	flag.BoolVar(&cliFlag, "cli", false, "Interactive translation prompt")
	flag.BoolVar(&forceFlag, "force", false, "Force re-export even if token stores exist")
	flag.BoolVar(&sampleFlag, "sample", false, "Sample translations instead of beam search")

	flag.StringVar(&srcTokenizer, "src-tokenizer", "", "tokenizer.json for the source language")
	flag.StringVar(&trgTokenizer, "trg-tokenizer", "", "tokenizer.json for the target language")
	flag.StringVar(&srcText, "src-text", "", "raw training source text, one sentence per line")
	flag.StringVar(&trgText, "trg-text", "", "raw training target text, one sentence per line")
	flag.StringVar(&validSrcText, "valid-src-text", "", "raw validation source text")
	flag.StringVar(&validTrgText, "valid-trg-text", "", "raw validation target text")
	flag.StringVar(&inputGlob, "input", "", "glob of files to translate (supports **)")
	flag.Int64Var(&maxShardMB, "shard-mb", 2048, "maximum shard size in MB")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		klog.Exitf("config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case exportFlag:
		err = runExport(cfg)
	case trainFlag:
		err = runTrain(ctx, cfg)
	case translateFlag:
		err = runTranslate(ctx, cfg)
	case cliFlag:
		err = TranslateCLI(ctx, cfg)
	default:
		fmt.Println("No flag passed. Use -export, -train, -translate or -cli.")
		return
	}
	if err != nil {
		klog.Flush()
		klog.Exit(err)
	}
}

func loadConfig() (params.Config, error) {
	if configPath != "" {
		return params.Load(configPath)
	}
	cfg := params.Default()
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func rngFor(cfg params.Config, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(cfg.Seed, stream))
}

func runExport(cfg params.Config) error {
	if srcTokenizer == "" || trgTokenizer == "" {
		return errors.New("export needs -src-tokenizer and -trg-tokenizer")
	}
	srcTok, err := IO.LoadTokenizer(srcTokenizer)
	if err != nil {
		return err
	}
	trgTok, err := IO.LoadTokenizer(trgTokenizer)
	if err != nil {
		return err
	}

	for _, d := range []struct {
		path   string
		tok    *IO.Tokenizer
		nWords int
	}{{cfg.DictionarySrc, srcTok, cfg.NWordsSrc}, {cfg.Dictionary, trgTok, cfg.NWords}} {
		if msg := vocabWarning(d.path, d.tok.VocabSize(), d.nWords); msg != "" {
			klog.Warning(msg)
		}
		if d.path == "" || (fileExists(d.path) && !forceFlag) {
			continue
		}
		if err := IO.ExportVocabJSON(d.path, d.tok.Vocabulary()); err != nil {
			return err
		}
		fmt.Println("✅ Exported", d.path)
	}

	sets := []struct {
		name     string
		src, trg string
		valid    bool
	}{
		{"train", srcText, trgText, false},
		{"valid", validSrcText, validTrgText, true},
	}
	for _, s := range sets {
		if s.src == "" || s.trg == "" {
			fmt.Printf("⚠️ No %s text given, skipping\n", s.name)
			continue
		}
		spec := IO.SpecFromConfig(cfg, s.valid)
		if storeExists(spec.Source) && !forceFlag {
			fmt.Printf("⚡ Using cached %s stores\n", s.name)
			continue
		}
		w, err := IO.CreateBitext(spec, maxShardMB*1024*1024)
		if err != nil {
			return err
		}
		n, err := IO.ExportBitext(s.src, s.trg, srcTok, trgTok, w)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "export %s", s.name)
		}
		fmt.Printf("✅ Exported %d %s pairs\n", n, s.name)
	}
	fmt.Println("✨ Export complete")
	return nil
}

func runTrain(ctx context.Context, cfg params.Config) error {
	var (
		m       *model.Bigram
		history []float64
		updates int
		err     error
	)
	if cfg.Reload && fileExists(cfg.SaveTo) {
		m, history, updates, err = model.Load(cfg.SaveTo)
		if err != nil {
			return err
		}
		if m.NWordsSrc != cfg.NWordsSrc || m.NWords != cfg.NWords {
			return errors.Errorf("reloaded model has vocabularies %d/%d, config says %d/%d",
				m.NWordsSrc, m.NWords, cfg.NWordsSrc, cfg.NWords)
		}
		klog.Infof("Reloaded %s after %d updates", cfg.SaveTo, updates)
	} else {
		m, err = model.NewBigram(cfg.NWordsSrc, cfg.NWords, rngFor(cfg, 1))
		if err != nil {
			return err
		}
	}

	trainP, err := data.NewPipeline(data.PipelineConfigFrom(cfg, false),
		data.CorpusOpener(IO.SpecFromConfig(cfg, false)), rngFor(cfg, 2))
	if err != nil {
		return err
	}
	setup := train.Setup{
		Model: m,
		Train: trainP,
		Save: func(path string, history []float64, updates int) error {
			return model.Save(m, history, updates, path)
		},
		History: history,
		Updates: updates,
	}
	if cfg.ValidSource != "" && cfg.ValidTarget != "" {
		validP, err := data.NewPipeline(data.PipelineConfigFrom(cfg, true),
			data.CorpusOpener(IO.SpecFromConfig(cfg, true)), nil)
		if err != nil {
			return err
		}
		setup.Valid = validP
	}
	if setup.SourceDict, err = loadDict(cfg.DictionarySrc); err != nil {
		return err
	}
	if setup.TargetDict, err = loadDict(cfg.Dictionary); err != nil {
		return err
	}

	tr, err := train.New(cfg, setup)
	if err != nil {
		return err
	}
	res, err := tr.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Done: %d updates over %d epochs, train %.4f, valid %.4f, early stop %v\n",
		res.Updates, res.Epochs, res.TrainCost, res.ValidCost, res.EarlyStopped)
	if len(res.History) > 0 {
		fmt.Println("Validation cost history:")
		fmt.Print(utils.ASCIIPlot(res.History, 10))
	}
	return nil
}

// vocabWarning is non-empty when a tokenizer emits ids the model maps to UNK.
func vocabWarning(path string, vocabSize, nWords int) string {
	if vocabSize <= nWords {
		return ""
	}
	return fmt.Sprintf("tokenizer for %s has %d tokens, model keeps %d; ids past that become UNK",
		path, vocabSize, nWords)
}

func loadDict(path string) (params.Vocabulary, error) {
	if path == "" || !fileExists(path) {
		return params.Vocabulary{}, nil
	}
	return IO.ImportVocabJSON(path)
}

// fileExists true if path exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// storeExists reports whether an export already produced spec.
func storeExists(spec IO.StoreSpec) bool {
	if spec.Kind == params.StoreSQLite {
		return fileExists(spec.Path)
	}
	files, err := IO.ShardFiles(spec.Path)
	return err == nil && len(files) > 0
}
