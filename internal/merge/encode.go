package merge

import (
	"bytes"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// sectionOrder fixes the position of well-known top-level sections in the
// encoded document. Unknown sections follow alphabetically. Together with
// sorted nested map keys this makes the output byte-stable for identical
// inputs.
var sectionOrder = []string{
	"mixed-port",
	"port",
	"socks-port",
	"redir-port",
	"tproxy-port",
	"allow-lan",
	"mode",
	"log-level",
	"ipv6",
	"external-controller",
	"secret",
	"tun",
	"dns",
	"hosts",
	"proxies",
	"proxy-groups",
	"proxy-providers",
	"rule-providers",
	"rules",
}

var sectionRank = func() map[string]int {
	m := make(map[string]int, len(sectionOrder))
	for i, s := range sectionOrder {
		m[s] = i
	}
	return m
}()

// encodeCanonical serializes a configuration map deterministically.
func encodeCanonical(doc map[string]interface{}) ([]byte, error) {
	root, err := buildNode(doc, true)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildNode(v interface{}, topLevel bool) (*yaml.Node, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sortKeys(keys, topLevel)

		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range keys {
			keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
			valNode, err := buildNode(t[k], false)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, keyNode, valNode)
		}
		return node, nil
	case []interface{}:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, elem := range t {
			elemNode, err := buildNode(elem, false)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, elemNode)
		}
		return node, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(v); err != nil {
			return nil, fmt.Errorf("failed to encode value %v: %w", v, err)
		}
		return node, nil
	}
}

func sortKeys(keys []string, topLevel bool) {
	if !topLevel {
		sort.Strings(keys)
		return
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := sectionRank[keys[i]]
		rj, jok := sectionRank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
