package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/yargevad/filepathx"

	"github.com/manningwu07/nmt/IO"
	"github.com/manningwu07/nmt/model"
	"github.com/manningwu07/nmt/params"
	"github.com/manningwu07/nmt/search"
)

type session struct {
	tr     *search.Translator
	srcTok *IO.Tokenizer
	trgTok *IO.Tokenizer
	dict   params.Vocabulary
}

func newSession(cfg params.Config) (*session, error) {
	if srcTokenizer == "" {
		return nil, errors.New("translation needs -src-tokenizer")
	}
	m, _, _, err := model.Load(cfg.SaveTo)
	if err != nil {
		return nil, err
	}
	s := &session{}
	if s.srcTok, err = IO.LoadTokenizer(srcTokenizer); err != nil {
		return nil, err
	}
	if trgTokenizer != "" {
		if s.trgTok, err = IO.LoadTokenizer(trgTokenizer); err != nil {
			return nil, err
		}
	} else if s.dict, err = loadDict(cfg.Dictionary); err != nil {
		return nil, err
	}

	opts := search.Options{
		Mode:      search.Beam,
		K:         cfg.BeamWidth,
		MaxSteps:  cfg.DecodeMaxLen,
		MinLength: cfg.DecodeMinLen,
	}
	if sampleFlag {
		opts = search.Options{Mode: search.Stochastic, K: 1, MaxSteps: cfg.DecodeMaxLen}
	}
	s.tr, err = search.NewTranslator(search.NewDecoder(m, rngFor(cfg, 3)), opts, true, cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) translate(ctx context.Context, line string) (string, error) {
	ids, err := s.srcTok.Encode(line)
	if err != nil {
		return "", err
	}
	best, err := s.tr.Translate(ctx, ids)
	if err != nil {
		return "", err
	}
	if s.trgTok != nil {
		return s.trgTok.Decode(best.Tokens), nil
	}
	out := make([]string, 0, len(best.Tokens))
	for _, id := range best.Tokens {
		if id == search.EOS {
			break
		}
		if len(s.dict.IDToToken) == 0 {
			out = append(out, fmt.Sprint(id))
		} else {
			out = append(out, s.dict.Token(id))
		}
	}
	return strings.Join(out, " "), nil
}

func (s *session) translateAll(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		out, err := s.translate(ctx, strings.TrimSpace(sc.Text()))
		if err != nil {
			return err
		}
		fmt.Fprintln(w, out)
	}
	return sc.Err()
}

func runTranslate(ctx context.Context, cfg params.Config) error {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	if inputGlob == "" {
		return s.translateAll(ctx, os.Stdin, os.Stdout)
	}
	files, err := filepathx.Glob(inputGlob)
	if err != nil {
		return errors.Wrapf(err, "glob %s", inputGlob)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", inputGlob)
	}
	sort.Strings(files)
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrapf(err, "open %s", path)
		}
		err = s.translateAll(ctx, f, os.Stdout)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "translate %s", path)
		}
	}
	return nil
}

func TranslateCLI(ctx context.Context, cfg params.Config) error {
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("Translation CLI. Type 'exit' to quit.")
	for {
		fmt.Print("Source: ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "exit" || (err != nil && input == "") {
			return nil
		}
		out, terr := s.translate(ctx, input)
		if terr != nil {
			fmt.Println("Error:", terr)
			continue
		}
		fmt.Println("Target:", out)
	}
}
